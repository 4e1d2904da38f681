package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/app/validate"
	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/masterdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

func init() {
	validate.RegisterRule("attendance_status", "{0} must be one of Present Absent Justified", func(fl validator.FieldLevel) bool {
		return IsStatus(fl.Field().String())
	})
}

type attendanceService interface {
	ListByClassDate(ctx context.Context, classID int64, date string) ([]Record, error)
	SaveBatch(ctx context.Context, b Batch) ([]Record, error)
	MonthlySheet(ctx context.Context, classID int64, month string) ([]byte, error)
	ClassTeacherID(ctx context.Context, classID int64) (int64, error)
}

type Handler struct {
	svc        attendanceService
	countMarks func(status string, n int)
}

type HandlerOption func(*Handler)

// WithMarksCounter reports the statuses of every saved batch to fn.
func WithMarksCounter(fn func(status string, n int)) HandlerOption {
	return func(h *Handler) { h.countMarks = fn }
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type markRequest struct {
	EnrollmentID int64  `json:"enrollmentId" validate:"required,gt=0"`
	Status       string `json:"status" validate:"required,attendance_status"`
	Note         string `json:"note" validate:"max=500"`
}

type batchRequest struct {
	Date    string        `json:"date" validate:"required,datetime=2006-01-02"`
	ClassID int64         `json:"classId" validate:"required,gt=0"`
	Marks   []markRequest `json:"marks" validate:"required,min=1,dive"`
}

func NewHandler(svc attendanceService, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListByClassDate serves GET /attendance/class/{id}/date/{date}.
func (h *Handler) ListByClassDate(w http.ResponseWriter, r *http.Request) {
	classID, ok := h.classParam(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListByClassDate(r.Context(), classID, chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SaveBatch(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if fields := validate.Struct(req); fields != nil {
		apiresp.WriteValidation(w, r, "", fields)
		return
	}
	if !h.canAccess(w, r, user, req.ClassID) {
		return
	}

	b := Batch{ClassID: req.ClassID, Date: req.Date, RecordedBy: user.ID, Marks: make([]Mark, 0, len(req.Marks))}
	for _, m := range req.Marks {
		b.Marks = append(b.Marks, Mark{EnrollmentID: m.EnrollmentID, Status: m.Status, Note: m.Note})
	}
	items, err := h.svc.SaveBatch(r.Context(), b)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.countMarks != nil {
		counts := make(map[string]int, 3)
		for _, m := range b.Marks {
			counts[m.Status]++
		}
		for status, n := range counts {
			h.countMarks(status, n)
		}
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// Sheet serves GET /attendance/class/{id}/sheet?month=YYYY-MM.
func (h *Handler) Sheet(w http.ResponseWriter, r *http.Request) {
	classID, ok := h.classParam(w, r)
	if !ok {
		return
	}
	month := r.URL.Query().Get("month")
	content, err := h.svc.MonthlySheet(r.Context(), classID, month)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", auth.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chamada-%d-%s.xlsx"`, classID, month))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// classParam parses the class id and checks that the caller may see it.
func (h *Handler) classParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid class id"})
		return 0, false
	}
	return id, h.canAccess(w, r, user, id)
}

func (h *Handler) canAccess(w http.ResponseWriter, r *http.Request, user *auth.User, classID int64) bool {
	if user.Role != auth.RoleTeacher {
		return true
	}
	teacherID, err := h.svc.ClassTeacherID(r.Context(), classID)
	if err != nil {
		writeServiceError(w, r, err)
		return false
	}
	if user.TeacherID == nil || *user.TeacherID != teacherID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, masterdata.ErrClassNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrDuplicateEnrollment), errors.Is(err, ErrEnrollmentNotActive):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmptyBatch):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
