package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gerenciaesportes/internal/attendance"
	"gerenciaesportes/internal/enrollment"
	"gerenciaesportes/internal/masterdata"
)

var ErrInvalidRange = errors.New("invalid date range")

// maxRangeDays bounds a single report request.
const maxRangeDays = 366

type Service struct {
	db  *sql.DB
	now func() time.Time
}

// StudentFrequency is one student's attendance over the report range.
type StudentFrequency struct {
	EnrollmentID int64   `json:"enrollmentId"`
	StudentID    int64   `json:"studentId"`
	StudentName  string  `json:"studentName"`
	Active       bool    `json:"active"`
	Present      int     `json:"present"`
	Absent       int     `json:"absent"`
	Justified    int     `json:"justified"`
	Rate         float64 `json:"rate"`
}

type ClassFrequency struct {
	ClassID       int64              `json:"classId"`
	From          string             `json:"from"`
	To            string             `json:"to"`
	RecordedDates int                `json:"recordedDates"`
	Rate          float64            `json:"rate"`
	Students      []StudentFrequency `json:"students"`
}

// Range is an inclusive date range; empty bounds default to the current
// month up to today.
type Range struct {
	From string
	To   string
}

type frequencyRow struct {
	EnrollmentID int64
	StudentID    int64
	StudentName  string
	Active       bool
	Date         string
	Status       string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) resolveRange(rg Range) (time.Time, time.Time, error) {
	today := s.now()
	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	var err error
	if v := strings.TrimSpace(rg.From); v != "" {
		if from, err = time.Parse(attendance.DateLayout, v); err != nil {
			return from, to, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidRange)
		}
	}
	if v := strings.TrimSpace(rg.To); v != "" {
		if to, err = time.Parse(attendance.DateLayout, v); err != nil {
			return from, to, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalidRange)
		}
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	// both ends are included
	if to.Sub(from) >= maxRangeDays*24*time.Hour {
		return from, to, fmt.Errorf("%w: at most %d days", ErrInvalidRange, maxRangeDays)
	}
	return from, to, nil
}

// ClassFrequency counts each student's marks for classID inside rg.
// Enrollments cancelled before the range with no marks in it are left out.
func (s *Service) ClassFrequency(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error) {
	from, to, err := s.resolveRange(rg)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM classes WHERE id = $1)`, classID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %d", masterdata.ErrClassNotFound, classID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, s.id, s.full_name, e.active,
			COALESCE(to_char(a.class_date, 'YYYY-MM-DD'), ''), COALESCE(a.status, '')
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		LEFT JOIN attendance a ON a.enrollment_id = e.id
			AND a.class_date BETWEEN $2::date AND $3::date
		WHERE e.class_id = $1 AND (e.active OR a.id IS NOT NULL)
		ORDER BY s.full_name ASC, e.id ASC
	`, classID, from.Format(attendance.DateLayout), to.Format(attendance.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("load frequency: %w", err)
	}
	defer rows.Close()

	items := make([]frequencyRow, 0, 64)
	for rows.Next() {
		var row frequencyRow
		if err := rows.Scan(&row.EnrollmentID, &row.StudentID, &row.StudentName, &row.Active, &row.Date, &row.Status); err != nil {
			return nil, fmt.Errorf("scan frequency: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frequency: %w", err)
	}

	out := summarize(items)
	out.ClassID = classID
	out.From = from.Format(attendance.DateLayout)
	out.To = to.Format(attendance.DateLayout)
	return out, nil
}

func (s *Service) ClassTeacherID(ctx context.Context, classID int64) (int64, error) {
	return enrollment.NewService(s.db).ClassTeacherID(ctx, classID)
}

// summarize folds joined rows, ordered by student, into per-student counts.
// Rates are present marks over recorded marks, rounded to two decimals.
func summarize(rows []frequencyRow) *ClassFrequency {
	out := &ClassFrequency{Students: make([]StudentFrequency, 0)}
	index := make(map[int64]int)
	dates := make(map[string]struct{})
	var present, recorded int

	for _, row := range rows {
		i, ok := index[row.EnrollmentID]
		if !ok {
			out.Students = append(out.Students, StudentFrequency{
				EnrollmentID: row.EnrollmentID,
				StudentID:    row.StudentID,
				StudentName:  row.StudentName,
				Active:       row.Active,
			})
			i = len(out.Students) - 1
			index[row.EnrollmentID] = i
		}
		if row.Date == "" {
			continue
		}
		dates[row.Date] = struct{}{}
		st := &out.Students[i]
		switch row.Status {
		case attendance.StatusPresent:
			st.Present++
			present++
		case attendance.StatusAbsent:
			st.Absent++
		case attendance.StatusJustified:
			st.Justified++
		default:
			continue
		}
		recorded++
	}

	for i := range out.Students {
		st := &out.Students[i]
		st.Rate = rate(st.Present, st.Present+st.Absent+st.Justified)
	}
	out.RecordedDates = len(dates)
	out.Rate = rate(present, recorded)
	return out
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*100) / 100
}
