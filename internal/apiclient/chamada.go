package apiclient

import (
	"context"

	"gerenciaesportes/internal/chamada"
)

// RosterReader reads class rosters for the attendance editor.
type RosterReader struct {
	Client *Client
}

func (r RosterReader) Roster(ctx context.Context, classID int64) ([]chamada.Student, error) {
	items, err := r.Client.Enrollments(ctx, classID)
	if err != nil {
		return nil, err
	}
	out := make([]chamada.Student, 0, len(items))
	for _, e := range items {
		if !e.Active {
			continue
		}
		out = append(out, chamada.Student{ID: e.StudentID, EnrollmentID: e.ID, Name: e.Student.FullName})
	}
	return out, nil
}

// AttendanceStore reads and submits marks for the attendance editor.
type AttendanceStore struct {
	Client *Client
}

func (s AttendanceStore) Marks(ctx context.Context, classID int64, date string) ([]chamada.Record, error) {
	items, err := s.Client.Attendance(ctx, classID, date)
	if err != nil {
		return nil, err
	}
	out := make([]chamada.Record, 0, len(items))
	for _, rec := range items {
		out = append(out, chamada.Record{EnrollmentID: rec.EnrollmentID, Status: rec.Status})
	}
	return out, nil
}

func (s AttendanceStore) SubmitBatch(ctx context.Context, b chamada.Batch) error {
	req := AttendanceBatch{Date: b.Date, ClassID: b.ClassID, Marks: make([]AttendanceMark, 0, len(b.Marks))}
	for _, m := range b.Marks {
		req.Marks = append(req.Marks, AttendanceMark{EnrollmentID: m.EnrollmentID, Status: m.Status})
	}
	_, err := s.Client.SubmitAttendance(ctx, req)
	return err
}

// NewEditor returns an attendance editor backed by c.
func NewEditor(c *Client, opts ...chamada.Option) *chamada.Editor {
	return chamada.NewEditor(RosterReader{Client: c}, AttendanceStore{Client: c}, opts...)
}
