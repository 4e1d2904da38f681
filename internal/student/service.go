package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gerenciaesportes/internal/enrollment"
	"gerenciaesportes/internal/masterdata"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("student not found")
	ErrStudentHasEnrollments = errors.New("student has active enrollments")
	ErrClassesOverlap        = errors.New("selected classes overlap")
)

const DateLayout = "2006-01-02"

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Student struct {
	ID           int64  `json:"id"`
	FullName     string `json:"fullName"`
	BirthDate    string `json:"birthDate"`
	School       string `json:"school"`
	Grade        string `json:"grade"`
	MotherName   string `json:"motherName"`
	FatherName   string `json:"fatherName"`
	Phone1       string `json:"phone1"`
	Phone2       string `json:"phone2"`
	Address      string `json:"address"`
	MedicalNotes string `json:"medicalNotes"`
	// Enrollments is only filled by Get.
	Enrollments []enrollment.Enrollment `json:"enrollments,omitempty"`
}

type Input struct {
	FullName     string
	BirthDate    string
	School       string
	Grade        string
	MotherName   string
	FatherName   string
	Phone1       string
	Phone2       string
	Address      string
	MedicalNotes string
	// ClassIDs is honoured by Create only.
	ClassIDs []int64
}

type Filter struct {
	Name   string
	School string
	Grade  string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

const studentSelect = `
	SELECT id, full_name, to_char(birth_date, 'YYYY-MM-DD'),
		COALESCE(school, ''), COALESCE(grade, ''),
		COALESCE(mother_name, ''), COALESCE(father_name, ''),
		COALESCE(phone_1, ''), COALESCE(phone_2, ''),
		COALESCE(address, ''), COALESCE(medical_notes, '')
	FROM students
`

func scanStudent(row interface{ Scan(...interface{}) error }) (*Student, error) {
	var st Student
	if err := row.Scan(
		&st.ID, &st.FullName, &st.BirthDate,
		&st.School, &st.Grade, &st.MotherName, &st.FatherName,
		&st.Phone1, &st.Phone2, &st.Address, &st.MedicalNotes,
	); err != nil {
		return nil, err
	}
	return &st, nil
}

func likePattern(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// List returns students ordered by name. Each non-empty filter field is a
// case-insensitive contains match.
func (s *Service) List(ctx context.Context, f Filter) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, studentSelect+`
		WHERE ($1::text = '' OR full_name ILIKE $1)
		  AND ($2::text = '' OR school ILIKE $2)
		  AND ($3::text = '' OR grade ILIKE $3)
		ORDER BY full_name ASC, id ASC
	`, likePattern(f.Name), likePattern(f.School), likePattern(f.Grade))
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	items := make([]Student, 0, 64)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		items = append(items, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, studentSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	st.Enrollments, err = enrollment.NewService(s.db).List(ctx, enrollment.Filter{StudentID: id})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Create registers a student and enrolls it in in.ClassIDs within one transaction.
func (s *Service) Create(ctx context.Context, in Input) (*Student, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(in.ClassIDs) > 0 {
		classes, err := masterdata.GetClassesTx(ctx, tx, in.ClassIDs)
		if err != nil {
			return nil, err
		}
		if i, j, ok := masterdata.FindOverlap(classes); ok {
			return nil, fmt.Errorf("%w: %s and %s", ErrClassesOverlap, classes[i].Label(), classes[j].Label())
		}
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO students (full_name, birth_date, school, grade, mother_name, father_name,
			phone_1, phone_2, address, medical_notes)
		VALUES ($1, $2::date, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))
		RETURNING id
	`, in.FullName, in.BirthDate, in.School, in.Grade, in.MotherName, in.FatherName,
		in.Phone1, in.Phone2, in.Address, in.MedicalNotes).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert student: %w", err)
	}

	for _, classID := range in.ClassIDs {
		if _, err := enrollment.EnrollTx(ctx, tx, id, classID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit student: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (*Student, error) {
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE students
		SET full_name = $2, birth_date = $3::date, school = NULLIF($4, ''), grade = NULLIF($5, ''),
			mother_name = NULLIF($6, ''), father_name = NULLIF($7, ''),
			phone_1 = NULLIF($8, ''), phone_2 = NULLIF($9, ''),
			address = NULLIF($10, ''), medical_notes = NULLIF($11, '')
		WHERE id = $1
	`, id, in.FullName, in.BirthDate, in.School, in.Grade, in.MotherName, in.FatherName,
		in.Phone1, in.Phone2, in.Address, in.MedicalNotes)
	if err != nil {
		return nil, fmt.Errorf("update student: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a student without active enrollments, along with its
// cancelled enrollments and their attendance.
func (s *Service) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM enrollments WHERE student_id = s.id AND active)
		FROM students s WHERE s.id = $1 FOR UPDATE
	`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load student: %w", err)
	}
	if active > 0 {
		return ErrStudentHasEnrollments
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return tx.Commit()
}

func (s *Service) normalize(in Input) (Input, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return in, fmt.Errorf("%w: fullName is required", ErrInvalidInput)
	}
	birth, err := time.Parse(DateLayout, strings.TrimSpace(in.BirthDate))
	if err != nil {
		return in, fmt.Errorf("%w: birthDate must be YYYY-MM-DD", ErrInvalidInput)
	}
	if birth.After(s.now()) {
		return in, fmt.Errorf("%w: birthDate is in the future", ErrInvalidInput)
	}
	in.BirthDate = birth.Format(DateLayout)

	for _, f := range []*string{&in.School, &in.Grade, &in.MotherName, &in.FatherName, &in.Phone1, &in.Phone2, &in.Address, &in.MedicalNotes} {
		*f = strings.TrimSpace(*f)
	}

	seen := make(map[int64]struct{}, len(in.ClassIDs))
	ids := in.ClassIDs[:0:0]
	for _, id := range in.ClassIDs {
		if id <= 0 {
			return in, fmt.Errorf("%w: invalid class id %d", ErrInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	in.ClassIDs = ids
	return in, nil
}
