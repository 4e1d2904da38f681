package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouterSmoke(t *testing.T) {
	router := NewRouter(Config{
		JWTSecret:           "test-secret",
		AuthRateLimitPerMin: 60,
		CORSOrigins:         []string{"*"},
	}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "healthz_without_db", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusServiceUnavailable},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "login_invalid_body", method: http.MethodPost, target: "/api/v1/auth/token", body: "{", wantStatus: http.StatusBadRequest},
		{name: "login_missing_fields", method: http.MethodPost, target: "/api/v1/auth/token", body: `{"username":""}`, wantStatus: http.StatusBadRequest},
		{name: "me_unauthorized", method: http.MethodGet, target: "/api/v1/users/me", wantStatus: http.StatusUnauthorized},
		{name: "students_unauthorized", method: http.MethodGet, target: "/api/v1/students", wantStatus: http.StatusUnauthorized},
		{name: "classes_unauthorized", method: http.MethodGet, target: "/api/v1/classes/1", wantStatus: http.StatusUnauthorized},
		{name: "enrollments_unauthorized", method: http.MethodPost, target: "/api/v1/enrollments", body: "{}", wantStatus: http.StatusUnauthorized},
		{name: "attendance_unauthorized", method: http.MethodGet, target: "/api/v1/attendance/class/1/date/2024-03-04", wantStatus: http.StatusUnauthorized},
		{name: "batch_unauthorized", method: http.MethodPost, target: "/api/v1/attendance/batch", body: "{}", wantStatus: http.StatusUnauthorized},
		{name: "report_unauthorized", method: http.MethodGet, target: "/api/v1/reports/classes/1/attendance", wantStatus: http.StatusUnauthorized},
		{name: "users_unauthorized", method: http.MethodGet, target: "/api/v1/users", wantStatus: http.StatusUnauthorized},
		{name: "unknown_route", method: http.MethodGet, target: "/api/v1/nope", wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := NewRouter(Config{JWTSecret: "test-secret", CORSOrigins: []string{"http://localhost:5173"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/students", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected allowed origin, got %q (status %d)", got, w.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	router := NewRouter(Config{JWTSecret: "test-secret", AuthRateLimitPerMin: 1}, nil)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader("{"))
		req.RemoteAddr = "192.0.2.10:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 400 then 429, got %v", codes)
	}
}
