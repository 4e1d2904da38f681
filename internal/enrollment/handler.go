package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/app/validate"
	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/masterdata"

	"github.com/go-chi/chi/v5"
)

type enrollmentService interface {
	List(ctx context.Context, f Filter) ([]Enrollment, error)
	Create(ctx context.Context, studentID, classID int64) (*Enrollment, error)
	Cancel(ctx context.Context, id int64) error
	ClassTeacherID(ctx context.Context, classID int64) (int64, error)
}

type Handler struct {
	svc enrollmentService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createRequest struct {
	StudentID int64 `json:"studentId" validate:"required,gt=0"`
	ClassID   int64 `json:"classId" validate:"required,gt=0"`
}

func NewHandler(svc enrollmentService) *Handler {
	return &Handler{svc: svc}
}

// List serves GET /enrollments?classId=&studentId=. Professors must name one
// of their own classes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var f Filter
	q := r.URL.Query()
	for key, dst := range map[string]*int64{"classId": &f.ClassID, "studentId": &f.StudentID} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid " + key})
			return
		}
		*dst = n
	}

	if user.Role == auth.RoleTeacher {
		if f.ClassID == 0 {
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "classId is required"})
			return
		}
		if !h.teachesClass(w, r, user, f.ClassID) {
			return
		}
	}

	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if fields := validate.Struct(req); fields != nil {
		apiresp.WriteValidation(w, r, "", fields)
		return
	}

	item, err := h.svc.Create(r.Context(), req.StudentID, req.ClassID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid enrollment id"})
		return
	}
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteNoContent(w)
}

func (h *Handler) teachesClass(w http.ResponseWriter, r *http.Request, user *auth.User, classID int64) bool {
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
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStudentNotFound), errors.Is(err, masterdata.ErrClassNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAlreadyEnrolled), errors.Is(err, ErrScheduleConflict):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
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
