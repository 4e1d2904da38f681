package masterdata

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

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

func init() {
	validate.RegisterRule("weekday", "{0} must be one of SEG TER QUA QUI SEX SAB DOM", func(fl validator.FieldLevel) bool {
		return IsWeekday(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	})
	validate.RegisterRule("clock", "{0} must be a time of day as HH:MM", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
}

type masterdataService interface {
	ListModalities(ctx context.Context) ([]Modality, error)
	GetModality(ctx context.Context, id int64) (*Modality, error)
	CreateModality(ctx context.Context, in ModalityInput) (*Modality, error)
	UpdateModality(ctx context.Context, id int64, in ModalityInput) (*Modality, error)
	DeleteModality(ctx context.Context, id int64) error
	ListClasses(ctx context.Context, f ClassFilter) ([]Class, error)
	GetClass(ctx context.Context, id int64) (*Class, error)
	CreateClass(ctx context.Context, in ClassInput) (*Class, error)
	UpdateClass(ctx context.Context, id int64, in ClassInput) (*Class, error)
	DeleteClass(ctx context.Context, id int64) error
}

type Handler struct {
	svc masterdataService
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type modalityRequest struct {
	Name        string `json:"name" validate:"notblank,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type classRequest struct {
	Description string   `json:"description" validate:"max=100"`
	AgeCategory string   `json:"ageCategory" validate:"notblank,max=50"`
	Weekdays    []string `json:"weekdays" validate:"required,min=1,dive,weekday"`
	StartTime   string   `json:"startTime" validate:"required,clock"`
	EndTime     string   `json:"endTime" validate:"required,clock"`
	ModalityID  int64    `json:"modalityId" validate:"required,gt=0"`
	TeacherID   int64    `json:"teacherId" validate:"required,gt=0"`
}

func (r classRequest) input() ClassInput {
	return ClassInput{
		Description: r.Description,
		AgeCategory: r.AgeCategory,
		Weekdays:    r.Weekdays,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		ModalityID:  r.ModalityID,
		TeacherID:   r.TeacherID,
	}
}

func NewHandler(svc masterdataService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListModalities(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListModalities(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetModality(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "modality")
	if !ok {
		return
	}
	item, err := h.svc.GetModality(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) CreateModality(w http.ResponseWriter, r *http.Request) {
	var req modalityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.CreateModality(r.Context(), ModalityInput{Name: req.Name, Description: req.Description})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateModality(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "modality")
	if !ok {
		return
	}
	var req modalityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.UpdateModality(r.Context(), id, ModalityInput{Name: req.Name, Description: req.Description})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteModality(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "modality")
	if !ok {
		return
	}
	if err := h.svc.DeleteModality(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteNoContent(w)
}

// ListClasses lists classes. Professors only see their own classes.
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var f ClassFilter
	q := r.URL.Query()
	for key, dst := range map[string]*int64{"teacherId": &f.TeacherID, "modalityId": &f.ModalityID} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid " + key})
			return
		}
		*dst = n
	}

	if user.Role == auth.RoleTeacher {
		if user.TeacherID == nil {
			writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: []Class{}})
			return
		}
		f.TeacherID = *user.TeacherID
	}

	items, err := h.svc.ListClasses(r.Context(), f)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetClass(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := idParam(w, r, "class")
	if !ok {
		return
	}

	item, err := h.svc.GetClass(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !CanAccessClass(user, item) {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.CreateClass(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateClass(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "class")
	if !ok {
		return
	}
	var req classRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.UpdateClass(r.Context(), id, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteClass(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "class")
	if !ok {
		return
	}
	if err := h.svc.DeleteClass(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteNoContent(w)
}

// CanAccessClass reports whether user may read the class. Professors are
// limited to the classes they teach.
func CanAccessClass(user *auth.User, c *Class) bool {
	if user.Role != auth.RoleTeacher {
		return true
	}
	return user.TeacherID != nil && *user.TeacherID == c.TeacherID
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrModalityNotFound), errors.Is(err, ErrClassNotFound), errors.Is(err, ErrTeacherNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrModalityNameTaken), errors.Is(err, ErrModalityInUse), errors.Is(err, ErrClassHasEnrollments):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidSchedule),
		errors.Is(err, ErrUnknownWeekday), errors.Is(err, ErrInvalidClock):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func idParam(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid " + what + " id"})
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return false
	}
	if fields := validate.Struct(dst); fields != nil {
		apiresp.WriteValidation(w, r, "", fields)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
