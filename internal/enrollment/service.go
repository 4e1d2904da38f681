package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gerenciaesportes/internal/masterdata"
)

var (
	ErrNotFound         = errors.New("enrollment not found")
	ErrStudentNotFound  = errors.New("student not found")
	ErrAlreadyEnrolled  = errors.New("student is already enrolled in this class")
	ErrScheduleConflict = errors.New("schedule conflict with another enrollment")
)

type Service struct {
	db *sql.DB
}

type StudentRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
}

type ClassRef struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

type Enrollment struct {
	ID         int64      `json:"id"`
	StudentID  int64      `json:"studentId"`
	ClassID    int64      `json:"classId"`
	EnrolledOn string     `json:"enrolledOn"`
	Active     bool       `json:"active"`
	Student    StudentRef `json:"student"`
	Class      ClassRef   `json:"class"`
}

type Filter struct {
	ClassID   int64
	StudentID int64
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const enrollmentSelect = `
	SELECT e.id, e.student_id, e.class_id, to_char(e.enrolled_on, 'YYYY-MM-DD'), e.active,
		s.full_name, COALESCE(c.description, '')
	FROM enrollments e
	JOIN students s ON s.id = e.student_id
	JOIN classes c ON c.id = e.class_id
`

func scanEnrollment(row interface{ Scan(...interface{}) error }) (*Enrollment, error) {
	var e Enrollment
	if err := row.Scan(&e.ID, &e.StudentID, &e.ClassID, &e.EnrolledOn, &e.Active, &e.Student.FullName, &e.Class.Description); err != nil {
		return nil, err
	}
	e.Student.ID = e.StudentID
	e.Class.ID = e.ClassID
	return &e, nil
}

// List returns active enrollments matching f. An empty filter lists every
// enrollment, cancelled ones included.
func (s *Service) List(ctx context.Context, f Filter) ([]Enrollment, error) {
	unfiltered := f.ClassID == 0 && f.StudentID == 0
	rows, err := s.db.QueryContext(ctx, enrollmentSelect+`
		WHERE ($1::bigint = 0 OR e.class_id = $1)
		  AND ($2::bigint = 0 OR e.student_id = $2)
		  AND ($3 OR e.active)
		ORDER BY s.full_name ASC, e.id ASC
	`, f.ClassID, f.StudentID, unfiltered)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	items := make([]Enrollment, 0, 32)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, enrollmentSelect+` WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (s *Service) Create(ctx context.Context, studentID, classID int64) (*Enrollment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := EnrollTx(ctx, tx, studentID, classID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return s.Get(ctx, id)
}

// EnrollTx enrolls a student inside tx. A cancelled enrollment for the same
// class is reactivated. The student row is locked so concurrent enrollments
// of one student are checked against each other.
func EnrollTx(ctx context.Context, tx *sql.Tx, studentID, classID int64) (int64, error) {
	var locked int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, studentID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrStudentNotFound
		}
		return 0, fmt.Errorf("lock student: %w", err)
	}

	target, err := masterdata.GetClassesTx(ctx, tx, []int64{classID})
	if err != nil {
		return 0, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT class_id FROM enrollments WHERE student_id = $1 AND active
	`, studentID)
	if err != nil {
		return 0, fmt.Errorf("load active enrollments: %w", err)
	}
	var current []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan active enrollment: %w", err)
		}
		if id == classID {
			rows.Close()
			return 0, ErrAlreadyEnrolled
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate active enrollments: %w", err)
	}

	if err := checkConflicts(ctx, tx, target[0], current); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, class_id, enrolled_on, active)
		VALUES ($1, $2, CURRENT_DATE, TRUE)
		ON CONFLICT (student_id, class_id)
		DO UPDATE SET active = TRUE, enrolled_on = CURRENT_DATE
		RETURNING id
	`, studentID, classID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return id, nil
}

func checkConflicts(ctx context.Context, tx *sql.Tx, target masterdata.Class, currentIDs []int64) error {
	if len(currentIDs) == 0 {
		return nil
	}
	sched, err := target.Schedule()
	if err != nil {
		return fmt.Errorf("class %d schedule: %w", target.ID, err)
	}
	current, err := masterdata.GetClassesTx(ctx, tx, currentIDs)
	if err != nil {
		return err
	}
	for _, c := range current {
		other, err := c.Schedule()
		if err != nil {
			continue
		}
		if sched.Overlaps(other) {
			return fmt.Errorf("%w: %s", ErrScheduleConflict, c.Label())
		}
	}
	return nil
}

// Cancel deactivates an enrollment. Its attendance history is kept.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE enrollments SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClassTeacherID returns the teacher of a class, for per-teacher access checks.
func (s *Service) ClassTeacherID(ctx context.Context, classID int64) (int64, error) {
	var teacherID int64
	err := s.db.QueryRowContext(ctx, `SELECT teacher_id FROM classes WHERE id = $1`, classID).Scan(&teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, masterdata.ErrClassNotFound
		}
		return 0, fmt.Errorf("class teacher: %w", err)
	}
	return teacherID, nil
}
