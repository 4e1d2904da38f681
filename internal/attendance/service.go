package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gerenciaesportes/internal/enrollment"
	"gerenciaesportes/internal/masterdata"

	"github.com/lib/pq"
)

const (
	StatusPresent   = "Present"
	StatusAbsent    = "Absent"
	StatusJustified = "Justified"

	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrEmptyBatch          = errors.New("select at least one student")
	ErrDuplicateEnrollment = errors.New("enrollment appears more than once in the batch")
	ErrEnrollmentNotActive = errors.New("enrollment is not an active enrollment of the class")
)

func IsStatus(s string) bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusJustified:
		return true
	}
	return false
}

type Service struct {
	db *sql.DB
}

type Record struct {
	ID           int64  `json:"id"`
	EnrollmentID int64  `json:"enrollmentId"`
	StudentID    int64  `json:"studentId"`
	Date         string `json:"date"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
}

type Mark struct {
	EnrollmentID int64
	Status       string
	Note         string
}

type Batch struct {
	ClassID    int64
	Date       string
	Marks      []Mark
	RecordedBy int64
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return d, nil
}

const recordSelect = `
	SELECT a.id, a.enrollment_id, e.student_id, to_char(a.class_date, 'YYYY-MM-DD'),
		a.status, COALESCE(a.note, '')
	FROM attendance a
	JOIN enrollments e ON e.id = a.enrollment_id
`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	items := make([]Record, 0, 32)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EnrollmentID, &rec.StudentID, &rec.Date, &rec.Status, &rec.Note); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return items, nil
}

// ListByClassDate returns the attendance of the class's active enrollments on date.
func (s *Service) ListByClassDate(ctx context.Context, classID int64, date string) ([]Record, error) {
	d, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, recordSelect+`
		WHERE e.class_id = $1 AND e.active AND a.class_date = $2::date
		ORDER BY a.enrollment_id ASC
	`, classID, d.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SaveBatch upserts every mark of b in one transaction. A later batch for the
// same (enrollment, date) replaces the stored status.
func (s *Service) SaveBatch(ctx context.Context, b Batch) ([]Record, error) {
	d, err := parseDate(b.Date)
	if err != nil {
		return nil, err
	}
	if len(b.Marks) == 0 {
		return nil, ErrEmptyBatch
	}
	ids := make([]int64, 0, len(b.Marks))
	seen := make(map[int64]struct{}, len(b.Marks))
	for _, m := range b.Marks {
		if !IsStatus(m.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, m.Status)
		}
		if _, dup := seen[m.EnrollmentID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEnrollment, m.EnrollmentID)
		}
		seen[m.EnrollmentID] = struct{}{}
		ids = append(ids, m.EnrollmentID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := masterdata.GetClassesTx(ctx, tx, []int64{b.ClassID}); err != nil {
		return nil, err
	}
	active, err := activeEnrollmentsTx(ctx, tx, b.ClassID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrEnrollmentNotActive, id)
		}
	}

	var recordedBy interface{}
	if b.RecordedBy > 0 {
		recordedBy = b.RecordedBy
	}
	for _, m := range b.Marks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance (enrollment_id, class_date, status, note, recorded_by, recorded_at)
			VALUES ($1, $2::date, $3, NULLIF($4, ''), $5, now())
			ON CONFLICT (enrollment_id, class_date)
			DO UPDATE SET status = EXCLUDED.status, note = EXCLUDED.note,
				recorded_by = EXCLUDED.recorded_by, recorded_at = EXCLUDED.recorded_at
		`, m.EnrollmentID, d.Format(DateLayout), m.Status, strings.TrimSpace(m.Note), recordedBy)
		if err != nil {
			return nil, fmt.Errorf("upsert attendance: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, recordSelect+`
		WHERE a.class_date = $1::date AND a.enrollment_id = ANY($2::bigint[])
		ORDER BY a.enrollment_id ASC
	`, d.Format(DateLayout), pq.Int64Array(ids))
	if err != nil {
		return nil, fmt.Errorf("reload attendance: %w", err)
	}
	items, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance: %w", err)
	}
	return items, nil
}

func activeEnrollmentsTx(ctx context.Context, tx *sql.Tx, classID int64) (map[int64]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM enrollments WHERE class_id = $1 AND active`, classID)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ClassTeacherID is used by handlers to restrict professors to their own classes.
func (s *Service) ClassTeacherID(ctx context.Context, classID int64) (int64, error) {
	return enrollment.NewService(s.db).ClassTeacherID(ctx, classID)
}
