package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/masterdata"

	"github.com/go-chi/chi/v5"
)

type mockService struct {
	classFrequencyFn func(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error)
	classTeacherIDFn func(ctx context.Context, classID int64) (int64, error)
}

func (m *mockService) ClassFrequency(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error) {
	if m.classFrequencyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.classFrequencyFn(ctx, classID, rg)
}

func (m *mockService) ClassTeacherID(ctx context.Context, classID int64) (int64, error) {
	if m.classTeacherIDFn == nil {
		return 0, errors.New("not implemented")
	}
	return m.classTeacherIDFn(ctx, classID)
}

func newRequest(target, id string, user *auth.User) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	return req.WithContext(ctx)
}

func TestClassFrequencyHandler(t *testing.T) {
	teacherID := int64(7)
	otherID := int64(8)
	svc := &mockService{
		classTeacherIDFn: func(ctx context.Context, classID int64) (int64, error) {
			if classID == 404 {
				return 0, masterdata.ErrClassNotFound
			}
			return teacherID, nil
		},
		classFrequencyFn: func(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error) {
			if rg.From == "bad" {
				return nil, ErrInvalidRange
			}
			if classID == 404 {
				return nil, masterdata.ErrClassNotFound
			}
			return &ClassFrequency{ClassID: classID, From: rg.From, To: rg.To}, nil
		},
	}
	h := NewHandler(svc)

	tests := []struct {
		name       string
		target     string
		id         string
		user       *auth.User
		wantStatus int
	}{
		{name: "admin ok", target: "/?from=2024-03-01&to=2024-03-31", id: "3", user: &auth.User{ID: 1, Role: auth.RoleAdmin}, wantStatus: http.StatusOK},
		{name: "own class", target: "/", id: "3", user: &auth.User{ID: 2, Role: auth.RoleTeacher, TeacherID: &teacherID}, wantStatus: http.StatusOK},
		{name: "other teacher", target: "/", id: "3", user: &auth.User{ID: 3, Role: auth.RoleTeacher, TeacherID: &otherID}, wantStatus: http.StatusForbidden},
		{name: "teacher without profile", target: "/", id: "3", user: &auth.User{ID: 4, Role: auth.RoleTeacher}, wantStatus: http.StatusForbidden},
		{name: "bad id", target: "/", id: "x", user: &auth.User{ID: 1, Role: auth.RoleAdmin}, wantStatus: http.StatusBadRequest},
		{name: "bad range", target: "/?from=bad", id: "3", user: &auth.User{ID: 1, Role: auth.RoleAdmin}, wantStatus: http.StatusBadRequest},
		{name: "missing class", target: "/", id: "404", user: &auth.User{ID: 1, Role: auth.RoleCoordinator}, wantStatus: http.StatusNotFound},
		{name: "no user", target: "/", id: "3", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ClassFrequency(w, newRequest(tc.target, tc.id, tc.user))
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestClassFrequencyHandlerPassesRange(t *testing.T) {
	var got Range
	h := NewHandler(&mockService{
		classFrequencyFn: func(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error) {
			got = rg
			return &ClassFrequency{ClassID: classID, Students: []StudentFrequency{}}, nil
		},
	})
	w := httptest.NewRecorder()
	h.ClassFrequency(w, newRequest("/?from=2024-03-01&to=2024-03-15", "3", &auth.User{ID: 1, Role: auth.RoleAdmin}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.From != "2024-03-01" || got.To != "2024-03-15" {
		t.Fatalf("unexpected range %+v", got)
	}
	var env struct {
		OK   bool           `json:"ok"`
		Data ClassFrequency `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil || !env.OK || env.Data.ClassID != 3 {
		t.Fatalf("unexpected body %+v err=%v", env, err)
	}
}

func TestSummarize(t *testing.T) {
	rows := []frequencyRow{
		{EnrollmentID: 10, StudentID: 1, StudentName: "Ana", Active: true, Date: "2024-03-04", Status: "Present"},
		{EnrollmentID: 10, StudentID: 1, StudentName: "Ana", Active: true, Date: "2024-03-06", Status: "Present"},
		{EnrollmentID: 10, StudentID: 1, StudentName: "Ana", Active: true, Date: "2024-03-11", Status: "Absent"},
		{EnrollmentID: 11, StudentID: 2, StudentName: "Bruno", Active: false, Date: "2024-03-04", Status: "Justified"},
		{EnrollmentID: 12, StudentID: 3, StudentName: "Caio", Active: true},
	}
	out := summarize(rows)

	if len(out.Students) != 3 {
		t.Fatalf("expected 3 students, got %d", len(out.Students))
	}
	ana := out.Students[0]
	if ana.Present != 2 || ana.Absent != 1 || ana.Rate != 0.67 {
		t.Fatalf("unexpected Ana %+v", ana)
	}
	bruno := out.Students[1]
	if bruno.Justified != 1 || bruno.Rate != 0 || bruno.Active {
		t.Fatalf("unexpected Bruno %+v", bruno)
	}
	caio := out.Students[2]
	if caio.Present+caio.Absent+caio.Justified != 0 || caio.Rate != 0 {
		t.Fatalf("unexpected Caio %+v", caio)
	}
	if out.RecordedDates != 3 {
		t.Fatalf("expected 3 recorded dates, got %d", out.RecordedDates)
	}
	if out.Rate != 0.5 {
		t.Fatalf("expected class rate 0.5, got %v", out.Rate)
	}
}

func TestResolveRange(t *testing.T) {
	s := &Service{now: func() time.Time { return time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC) }}

	from, to, err := s.resolveRange(Range{})
	if err != nil {
		t.Fatalf("default range: %v", err)
	}
	if from.Format("2006-01-02") != "2024-03-01" || to.Format("2006-01-02") != "2024-03-20" {
		t.Fatalf("unexpected default range %s..%s", from, to)
	}

	bad := []Range{
		{From: "2024-13-01"},
		{From: "2024-03-10", To: "2024-03-01"},
		{From: "2022-01-01", To: "2024-01-01"},
		{From: "2024-01-01", To: "2025-01-01"},
	}
	for _, rg := range bad {
		if _, _, err := s.resolveRange(rg); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("%+v: expected ErrInvalidRange, got %v", rg, err)
		}
	}

	if _, _, err := s.resolveRange(Range{From: "2024-01-01", To: "2024-12-31"}); err != nil {
		t.Fatalf("366 days including both ends should pass: %v", err)
	}
}
