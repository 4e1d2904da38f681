package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/masterdata"

	"github.com/go-chi/chi/v5"
)

type reportService interface {
	ClassFrequency(ctx context.Context, classID int64, rg Range) (*ClassFrequency, error)
	ClassTeacherID(ctx context.Context, classID int64) (int64, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

// ClassFrequency serves GET /reports/classes/{id}/attendance?from=&to=.
func (h *Handler) ClassFrequency(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	classID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || classID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid class id")
		return
	}
	if user.Role == auth.RoleTeacher {
		teacherID, err := h.svc.ClassTeacherID(r.Context(), classID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if user.TeacherID == nil || *user.TeacherID != teacherID {
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
	}

	q := r.URL.Query()
	out, err := h.svc.ClassFrequency(r.Context(), classID, Range{From: q.Get("from"), To: q.Get("to")})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, masterdata.ErrClassNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidRange):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
