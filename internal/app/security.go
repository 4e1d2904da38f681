package app

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gerenciaesportes/internal/app/apiresp"
)

// maxTrackedKeys triggers a sweep of expired windows.
const maxTrackedKeys = 10000

type fixedWindow struct {
	used  int
	until time.Time
}

// IPRateLimiter allows at most limit hits per key in each fixed window.
type IPRateLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]fixedWindow
}

func NewIPRateLimiter(limit int, period time.Duration) *IPRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &IPRateLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]fixedWindow),
	}
}

// Allow records a hit for key. When the limit is reached it returns false
// and the time left until the window resets.
func (l *IPRateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > maxTrackedKeys {
		for k, w := range l.windows {
			if !now.Before(w.until) {
				delete(l.windows, k)
			}
		}
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.until) {
		w = fixedWindow{until: now.Add(l.period)}
	}
	if w.used >= l.limit {
		return false, w.until.Sub(now)
	}
	w.used++
	l.windows[key] = w
	return true, 0
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// RateLimitMiddleware limits requests per client address and route. Rejected
// requests get 429 with a Retry-After in whole seconds.
func RateLimitMiddleware(l *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(clientIP(r) + " " + r.Method + " " + r.URL.Path)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
