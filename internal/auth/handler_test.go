package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"
)

type mockAuthService struct {
	authenticatePasswordFn func(ctx context.Context, username, password string) (*User, error)
	issueTokenFn           func(u *User) (*IssuedToken, error)
	authenticateFn         func(ctx context.Context, rawToken string) (*User, *Claims, error)
	revokeTokenFn          func(ctx context.Context, claims *Claims) error
	changePasswordFn       func(ctx context.Context, userID int64, oldPassword, newPassword, confirmPassword string) error
	listUsersFn            func(ctx context.Context) ([]User, error)
	createUserFn           func(ctx context.Context, in CreateUserInput) (*User, error)
	updateUserRoleFn       func(ctx context.Context, username, role string) (*User, error)
	deleteUserFn           func(ctx context.Context, actorID, userID int64) error
	exportUsersExcelFn     func(ctx context.Context) ([]byte, error)
}

func (m *mockAuthService) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	if m.exportUsersExcelFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportUsersExcelFn(ctx)
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	if m.authenticatePasswordFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticatePasswordFn(ctx, username, password)
}

func (m *mockAuthService) IssueToken(u *User) (*IssuedToken, error) {
	if m.issueTokenFn == nil {
		return &IssuedToken{Raw: "tok", JTI: "jti"}, nil
	}
	return m.issueTokenFn(u)
}

func (m *mockAuthService) TokenTTL() time.Duration {
	return 8 * time.Hour
}

func (m *mockAuthService) Authenticate(ctx context.Context, rawToken string) (*User, *Claims, error) {
	if m.authenticateFn == nil {
		return nil, nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, rawToken)
}

func (m *mockAuthService) RevokeToken(ctx context.Context, claims *Claims) error {
	if m.revokeTokenFn == nil {
		return errors.New("not implemented")
	}
	return m.revokeTokenFn(ctx, claims)
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword, confirmPassword string) error {
	if m.changePasswordFn == nil {
		return errors.New("not implemented")
	}
	return m.changePasswordFn(ctx, userID, oldPassword, newPassword, confirmPassword)
}

func (m *mockAuthService) ListUsers(ctx context.Context) ([]User, error) {
	if m.listUsersFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listUsersFn(ctx)
}

func (m *mockAuthService) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if m.createUserFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createUserFn(ctx, in)
}

func (m *mockAuthService) UpdateUserRole(ctx context.Context, username, role string) (*User, error) {
	if m.updateUserRoleFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateUserRoleFn(ctx, username, role)
}

func (m *mockAuthService) DeleteUser(ctx context.Context, actorID, userID int64) error {
	if m.deleteUserFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteUserFn(ctx, actorID, userID)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestLoginJSONIssuesBearerToken(t *testing.T) {
	h := NewHandler(&mockAuthService{
		authenticatePasswordFn: func(ctx context.Context, username, password string) (*User, error) {
			if username != "ana" || password != "secret1" {
				t.Fatalf("unexpected credentials %q/%q", username, password)
			}
			return &User{ID: 3, Username: "ana", Role: RoleTeacher, MustChangePassword: true}, nil
		},
		issueTokenFn: func(u *User) (*IssuedToken, error) {
			return &IssuedToken{Raw: "signed.jwt.value", JTI: "x"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader([]byte(`{"username":"ana","password":"secret1"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["accessToken"] != "signed.jwt.value" || data["tokenType"] != "bearer" {
		t.Fatalf("unexpected token payload: %+v", data)
	}
	if data["mustChangePassword"] != true {
		t.Fatalf("expected mustChangePassword=true, got %+v", data)
	}
	if data["expiresIn"].(float64) != (8 * time.Hour).Seconds() {
		t.Fatalf("unexpected expiresIn: %+v", data["expiresIn"])
	}
}

func TestLoginAcceptsForm(t *testing.T) {
	var gotUser string
	h := NewHandler(&mockAuthService{
		authenticatePasswordFn: func(ctx context.Context, username, password string) (*User, error) {
			gotUser = username
			return &User{ID: 1, Username: username, Role: RoleAdmin}, nil
		},
	})

	form := url.Values{"username": {"admin"}, "password": {"secret1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUser != "admin" {
		t.Fatalf("expected form username to reach service, got %q", gotUser)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "bad credentials", err: ErrInvalidCredentials, want: http.StatusUnauthorized},
		{name: "locked", err: ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "internal", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockAuthService{
				authenticatePasswordFn: func(ctx context.Context, username, password string) (*User, error) {
					return nil, tc.err
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader([]byte(`{"username":"a","password":"b"}`)))
			w := httptest.NewRecorder()
			h.Login(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestLoginValidationFailure(t *testing.T) {
	h := NewHandler(&mockAuthService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader([]byte(`{"username":"  "}`)))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	if errBody["code"] != "validation_failed" {
		t.Fatalf("expected validation_failed, got %+v", errBody)
	}
	if fields, _ := errBody["fields"].([]interface{}); len(fields) != 2 {
		t.Fatalf("expected 2 field errors, got %+v", errBody["fields"])
	}
}

func TestRequireAuthRejectsMissingBearer(t *testing.T) {
	h := NewHandler(&mockAuthService{})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	w := httptest.NewRecorder()
	h.RequireAuth(next).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without calling next, got %d called=%v", w.Code, called)
	}
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestRequireAuthThenMeReturnsSections(t *testing.T) {
	h := NewHandler(&mockAuthService{
		authenticateFn: func(ctx context.Context, rawToken string) (*User, *Claims, error) {
			if rawToken != "good" {
				return nil, nil, ErrUnauthorized
			}
			return &User{ID: 9, Username: "prof", Role: RoleTeacher}, &Claims{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	h.RequireAuth(http.HandlerFunc(h.Me)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["username"] != "prof" || data["role"] != RoleTeacher {
		t.Fatalf("unexpected me payload: %+v", data)
	}
	sections := data["sections"].([]interface{})
	if len(sections) != 3 || sections[2] != SectionClasses {
		t.Fatalf("unexpected sections: %+v", sections)
	}
}

func TestRequireAuthExpiredToken(t *testing.T) {
	h := NewHandler(&mockAuthService{
		authenticateFn: func(ctx context.Context, rawToken string) (*User, *Claims, error) {
			return nil, nil, ErrTokenExpired
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer old")
	w := httptest.NewRecorder()
	h.RequireAuth(http.HandlerFunc(h.Me)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	if errBody["message"] != "token expired" {
		t.Fatalf("unexpected message: %+v", errBody)
	}
}

func TestRequireRoles(t *testing.T) {
	mw := RequireRoles(RoleAdmin, RoleCoordinator)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		role string
		want int
	}{
		{role: RoleAdmin, want: http.StatusNoContent},
		{role: RoleCoordinator, want: http.StatusNoContent},
		{role: RoleTeacher, want: http.StatusForbidden},
		{role: RoleAssistant, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 1, Role: tc.role}))
			w := httptest.NewRecorder()
			mw(next).ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestLogoutRevokesCurrentToken(t *testing.T) {
	var revoked string
	h := NewHandler(&mockAuthService{
		revokeTokenFn: func(ctx context.Context, claims *Claims) error {
			revoked = claims.ID
			return nil
		},
	})

	claims := &Claims{}
	claims.ID = "0b6c7a52-51a3-4d5b-9d42-1b0e8f0b3c11"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = req.WithContext(ContextWithClaims(ContextWithUser(req.Context(), &User{ID: 1, Role: RoleAdmin}), claims))
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if revoked != claims.ID {
		t.Fatalf("expected jti %s revoked, got %q", claims.ID, revoked)
	}
}

func TestChangePasswordMismatch(t *testing.T) {
	h := NewHandler(&mockAuthService{
		changePasswordFn: func(ctx context.Context, userID int64, oldPassword, newPassword, confirmPassword string) error {
			return ErrPasswordMismatch
		},
	})
	body := `{"oldPassword":"old123","newPassword":"new123","confirmPassword":"other1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/change-password", strings.NewReader(body))
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 5, Role: RoleTeacher}))
	w := httptest.NewRecorder()
	h.ChangePassword(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateUserForcesPasswordChange(t *testing.T) {
	var got CreateUserInput
	h := NewHandler(&mockAuthService{
		createUserFn: func(ctx context.Context, in CreateUserInput) (*User, error) {
			got = in
			return &User{ID: 10, Username: in.Username, Role: in.Role, MustChangePassword: in.MustChangePassword}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"username":"bia","password":"123456","role":"assistente"}`))
	w := httptest.NewRecorder()
	h.CreateUser(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if !got.MustChangePassword {
		t.Fatalf("expected new user to require password change")
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	h := NewHandler(&mockAuthService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"username":"bia","password":"123456","role":"root"}`))
	w := httptest.NewRecorder()
	h.CreateUser(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	h := NewHandler(&mockAuthService{
		createUserFn: func(ctx context.Context, in CreateUserInput) (*User, error) {
			return nil, ErrUsernameTaken
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"username":"bia","password":"123456","role":"admin"}`))
	w := httptest.NewRecorder()
	h.CreateUser(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestDeleteUserErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", err: nil, want: http.StatusNoContent},
		{name: "self", err: ErrSelfDelete, want: http.StatusBadRequest},
		{name: "linked teacher", err: ErrUserHasTeacher, want: http.StatusConflict},
		{name: "missing", err: ErrUserNotFound, want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockAuthService{
				deleteUserFn: func(ctx context.Context, actorID, userID int64) error {
					if actorID != 1 || userID != 7 {
						t.Fatalf("unexpected ids actor=%d user=%d", actorID, userID)
					}
					return tc.err
				},
			})

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/7", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "7")
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			req = req.WithContext(ContextWithUser(ctx, &User{ID: 1, Role: RoleAdmin}))
			w := httptest.NewRecorder()
			h.DeleteUser(w, req)

			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestExportUsersWritesWorkbook(t *testing.T) {
	teacherID := int64(4)
	content, err := renderUsersExcel([]User{
		{ID: 1, Username: "admin", Role: RoleAdmin},
		{ID: 2, Username: "prof", Role: RoleTeacher, TeacherID: &teacherID},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	h := NewHandler(&mockAuthService{
		exportUsersExcelFn: func(ctx context.Context) ([]byte, error) { return content, nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/export.xlsx", nil)
	w := httptest.NewRecorder()
	h.ExportUsers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != XLSXContentType {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[2][1] != "prof" || rows[2][4] != "4" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
