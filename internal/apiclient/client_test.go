package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gerenciaesportes/internal/app/apiresp"
	"gerenciaesportes/internal/chamada"

	"github.com/go-chi/chi/v5"
)

// fakeAPI answers the subset of the REST API the client uses.
type fakeAPI struct {
	mu      sync.Mutex
	token   string
	revoked bool
	batches []AttendanceBatch
	records []AttendanceRecord
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.revoked && r.Header.Get("Authorization") == "Bearer "+f.token
}

func (f *fakeAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret1" {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "invalid username or password")
			return
		}
		f.mu.Lock()
		f.token, f.revoked = "tok-"+body["username"], false
		f.mu.Unlock()
		apiresp.WriteOK(w, r, http.StatusOK, TokenResponse{AccessToken: "tok-" + body["username"], TokenType: "bearer", ExpiresIn: 28800})
	})
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !f.authorized(r) {
					apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Post("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.revoked = true
			f.mu.Unlock()
			apiresp.WriteNoContent(w)
		})
		r.Get("/api/v1/users/me", func(w http.ResponseWriter, r *http.Request) {
			apiresp.WriteOK(w, r, http.StatusOK, User{ID: 1, Username: "carla", Role: "professor", Sections: []string{"dashboard", "students", "classes"}})
		})
		r.Get("/api/v1/enrollments", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("classId") != "3" {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			items := []Enrollment{{ID: 10, StudentID: 1, ClassID: 3, Active: true}, {ID: 11, StudentID: 2, ClassID: 3, Active: true}}
			items[0].Student.FullName = "Ana"
			items[1].Student.FullName = "Bruno"
			apiresp.WriteOK(w, r, http.StatusOK, items)
		})
		r.Get("/api/v1/attendance/class/{id}/date/{date}", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			out := []AttendanceRecord{}
			for _, rec := range f.records {
				if rec.Date == chi.URLParam(r, "date") {
					out = append(out, rec)
				}
			}
			apiresp.WriteOK(w, r, http.StatusOK, out)
		})
		r.Post("/api/v1/attendance/batch", func(w http.ResponseWriter, r *http.Request) {
			var b AttendanceBatch
			_ = json.NewDecoder(r.Body).Decode(&b)
			for _, m := range b.Marks {
				if m.EnrollmentID == 99 {
					apiresp.WriteError(w, r, http.StatusUnprocessableEntity, "enrollment is not an active enrollment of the class: 99")
					return
				}
			}
			f.mu.Lock()
			f.batches = append(f.batches, b)
			f.mu.Unlock()
			apiresp.WriteOK(w, r, http.StatusOK, []AttendanceRecord{})
		})
	})
	return r
}

func newTestClient(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)
	return api, New(srv.URL+"/api/v1/", WithHTTPClient(srv.Client()))
}

type memoryStore struct {
	token   string
	cleared bool
	saveErr error
}

func (m *memoryStore) Load() (string, error) { return m.token, nil }
func (m *memoryStore) Save(tok string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.token = tok
	return nil
}
func (m *memoryStore) Clear() error {
	m.token, m.cleared = "", true
	return nil
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	_, c := newTestClient(t)
	_, err := c.Login(context.Background(), "carla", "wrong")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "unauthorized" || apiErr.Message != "invalid username or password" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !IsUnauthorized(err) {
		t.Fatalf("expected IsUnauthorized")
	}
}

func TestSessionLoginLogout(t *testing.T) {
	_, c := newTestClient(t)
	store := &memoryStore{}
	s := NewSession(c, store)
	ctx := context.Background()

	if s.CanSee("students") {
		t.Fatalf("anonymous session must not see sections")
	}
	user, err := s.Login(ctx, "carla", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Username != "carla" || store.token != "tok-carla" {
		t.Fatalf("unexpected session state %+v store=%q", user, store.token)
	}
	if !s.CanSee("classes") || s.CanSee("users") {
		t.Fatalf("unexpected section visibility")
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if !store.cleared || c.Token() != "" {
		t.Fatalf("expected token cleared")
	}
}

func TestSessionLoginFailsWhenTokenCannotBeSaved(t *testing.T) {
	_, c := newTestClient(t)
	store := &memoryStore{saveErr: errors.New("read-only file system")}
	s := NewSession(c, store)

	if _, err := s.Login(context.Background(), "carla", "secret1"); err == nil || err.Error() != "read-only file system" {
		t.Fatalf("expected save error, got %v", err)
	}
	if c.Token() != "" {
		t.Fatalf("expected client token cleared, got %q", c.Token())
	}
	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestSessionInitRestoresOrClearsToken(t *testing.T) {
	api, c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Login(ctx, "carla", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	valid := &memoryStore{token: "tok-carla"}
	s := NewSession(New(c.baseURL, WithHTTPClient(c.http)), valid)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if u, err := s.CurrentUser(); err != nil || u.Username != "carla" {
		t.Fatalf("expected restored user, got %+v %v", u, err)
	}

	api.mu.Lock()
	api.revoked = true
	api.mu.Unlock()
	stale := &memoryStore{token: "tok-carla"}
	s = NewSession(New(c.baseURL, WithHTTPClient(c.http)), stale)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init with stale token: %v", err)
	}
	if !stale.cleared {
		t.Fatalf("expected stale token cleared")
	}
	if _, err := s.CurrentUser(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected no user after stale token, got %v", err)
	}
}

func TestFileTokenStore(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "cfg", "token")}

	tok, err := store.Load()
	if err != nil || tok != "" {
		t.Fatalf("expected empty token for missing file, got %q %v", tok, err)
	}
	if err := store.Save("abc.def"); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
	if tok, _ := store.Load(); tok != "abc.def" {
		t.Fatalf("unexpected token %q", tok)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestEditorOverAPI(t *testing.T) {
	api, c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Login(ctx, "carla", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	api.records = []AttendanceRecord{{ID: 1, EnrollmentID: 10, StudentID: 1, Date: "2024-03-04", Status: "Present"}}

	e := NewEditor(c)
	if err := e.Open(ctx, 3, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if e.Mark(1) != chamada.Present || e.Mark(2) != chamada.Unset {
		t.Fatalf("unexpected marks %v", e.Marks())
	}
	if err := e.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(api.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(api.batches))
	}
	got := api.batches[0]
	if got.ClassID != 3 || got.Date != "2024-03-04" || len(got.Marks) != 1 || got.Marks[0] != (AttendanceMark{EnrollmentID: 10, Status: "Present"}) {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestEditorSurfacesSubmitErrorVerbatim(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Login(ctx, "carla", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	store := AttendanceStore{Client: c}
	err := store.SubmitBatch(ctx, chamada.Batch{ClassID: 3, Date: "2024-03-04", Marks: []chamada.Record{{EnrollmentID: 99, Status: "Present"}}})
	if err == nil || err.Error() != "enrollment is not an active enrollment of the class: 99" {
		t.Fatalf("expected verbatim server message, got %v", err)
	}

	if _, err := (RosterReader{Client: c}).Roster(ctx, 4); err == nil || err.Error() != "forbidden" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
