package teacher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/app/validate"
	"gerenciaesportes/internal/auth"

	"github.com/go-chi/chi/v5"
)

type teacherService interface {
	List(ctx context.Context) ([]Teacher, error)
	Get(ctx context.Context, id int64) (*Teacher, error)
	Create(ctx context.Context, in CreateInput) (*Created, error)
	Update(ctx context.Context, id int64, in UpdateInput) (*Teacher, error)
	Delete(ctx context.Context, id int64) error
}

type Handler struct {
	svc teacherService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createRequest struct {
	Name          string `json:"name" validate:"notblank,max=200"`
	NationalID    string `json:"nationalId" validate:"notblank,max=14"`
	Contact       string `json:"contact" validate:"max=20"`
	CreateAccount *bool  `json:"createAccount"`
	Username      string `json:"username" validate:"omitempty,max=150"`
	Password      string `json:"password" validate:"omitempty,min=6"`
	Role          string `json:"role" validate:"omitempty,oneof=admin coordenador professor assistente"`
}

type updateRequest struct {
	Name       string `json:"name" validate:"notblank,max=200"`
	NationalID string `json:"nationalId" validate:"notblank,max=14"`
	Contact    string `json:"contact" validate:"max=20"`
}

func NewHandler(svc teacherService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
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

	createAccount := true
	if req.CreateAccount != nil {
		createAccount = *req.CreateAccount
	}
	item, err := h.svc.Create(r.Context(), CreateInput{
		Name:          req.Name,
		NationalID:    req.NationalID,
		Contact:       req.Contact,
		CreateAccount: createAccount,
		Username:      req.Username,
		Password:      req.Password,
		Role:          req.Role,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if fields := validate.Struct(req); fields != nil {
		apiresp.WriteValidation(w, r, "", fields)
		return
	}

	item, err := h.svc.Update(r.Context(), id, UpdateInput{Name: req.Name, NationalID: req.NationalID, Contact: req.Contact})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid teacher id"})
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteNoContent(w)
}

// authorizedID parses the teacher id; professors may only address their own profile.
func (h *Handler) authorizedID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid teacher id"})
		return 0, false
	}
	if user.Role == auth.RoleTeacher && (user.TeacherID == nil || *user.TeacherID != id) {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNationalIDTaken), errors.Is(err, ErrTeacherHasClasses), errors.Is(err, auth.ErrUsernameTaken):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, auth.ErrInvalidRole), errors.Is(err, auth.ErrWeakPassword):
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
