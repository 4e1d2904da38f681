package student

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/app/validate"
	"gerenciaesportes/internal/auth"
	"gerenciaesportes/internal/enrollment"
	"gerenciaesportes/internal/masterdata"

	"github.com/go-chi/chi/v5"
)

type studentService interface {
	List(ctx context.Context, f Filter) ([]Student, error)
	Get(ctx context.Context, id int64) (*Student, error)
	Create(ctx context.Context, in Input) (*Student, error)
	Update(ctx context.Context, id int64, in Input) (*Student, error)
	Delete(ctx context.Context, id int64) error
	ExportExcel(ctx context.Context, f Filter) ([]byte, error)
}

type Handler struct {
	svc studentService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type studentRequest struct {
	FullName     string  `json:"fullName" validate:"notblank,max=500"`
	BirthDate    string  `json:"birthDate" validate:"required,datetime=2006-01-02"`
	School       string  `json:"school" validate:"max=100"`
	Grade        string  `json:"grade" validate:"max=50"`
	MotherName   string  `json:"motherName" validate:"max=500"`
	FatherName   string  `json:"fatherName" validate:"max=500"`
	Phone1       string  `json:"phone1" validate:"max=20"`
	Phone2       string  `json:"phone2" validate:"max=20"`
	Address      string  `json:"address"`
	MedicalNotes string  `json:"medicalNotes"`
	ClassIDs     []int64 `json:"classIds" validate:"omitempty,dive,gt=0"`
}

func (r studentRequest) input() Input {
	return Input{
		FullName:     r.FullName,
		BirthDate:    r.BirthDate,
		School:       r.School,
		Grade:        r.Grade,
		MotherName:   r.MotherName,
		FatherName:   r.FatherName,
		Phone1:       r.Phone1,
		Phone2:       r.Phone2,
		Address:      r.Address,
		MedicalNotes: r.MedicalNotes,
		ClassIDs:     r.ClassIDs,
	}
}

func NewHandler(svc studentService) *Handler {
	return &Handler{svc: svc}
}

func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{Name: q.Get("name"), School: q.Get("school"), Grade: q.Get("grade")}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	content, err := h.svc.ExportExcel(r.Context(), filterFromQuery(r))
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	filename := "alunos-" + time.Now().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", auth.XLSXContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
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
	var req studentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.Create(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req studentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.svc.Update(r.Context(), id, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteNoContent(w)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, masterdata.ErrClassNotFound), errors.Is(err, enrollment.ErrStudentNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrStudentHasEnrollments), errors.Is(err, ErrClassesOverlap),
		errors.Is(err, enrollment.ErrScheduleConflict), errors.Is(err, enrollment.ErrAlreadyEnrolled):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid student id"})
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return false
	}
	if fields := validate.Struct(dst); fields != nil {
		apiresp.WriteValidation(w, r, "", fields)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
