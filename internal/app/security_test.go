package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("k"); !ok {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if ok, wait := l.Allow("k"); ok || wait <= 0 {
		t.Fatalf("third request should be blocked with a wait, got ok=%v wait=%s", ok, wait)
	}
	if ok, _ := l.Allow("other"); !ok {
		t.Fatalf("keys must be limited independently")
	}
}

func TestIPRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("k"); !ok {
		t.Fatalf("first request should pass")
	}
	now = now.Add(20 * time.Second)
	if ok, wait := l.Allow("k"); ok || wait != 40*time.Second {
		t.Fatalf("expected block with 40s left, got ok=%v wait=%s", ok, wait)
	}
	now = now.Add(40 * time.Second)
	if ok, _ := l.Allow("k"); !ok {
		t.Fatalf("expected a fresh window")
	}
}

func TestRateLimitMiddlewareKeysOnHostOnly(t *testing.T) {
	l := NewIPRateLimiter(1, time.Minute)
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	next := RateLimitMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	codes := make([]int, 0, 2)
	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.1:5001"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.RemoteAddr = addr
		last = httptest.NewRecorder()
		next.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %v", codes)
	}
	if got := last.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
}
