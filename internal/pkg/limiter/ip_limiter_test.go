package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestMiddlewareRejectsAfterBurst(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 2)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	statuses := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusNoContent || statuses[1] != http.StatusNoContent {
		t.Fatalf("first two requests should pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", statuses[2])
	}
}

func TestBucketsArePerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(0.001), 1)
	defer l.Stop()

	a := httptest.NewRequest(http.MethodGet, "/ws", nil)
	a.RemoteAddr = "10.0.0.1:1"
	b := httptest.NewRequest(http.MethodGet, "/ws", nil)
	b.RemoteAddr = "10.0.0.2:1"

	if !l.Allow(a) || !l.Allow(b) {
		t.Fatal("each IP should get its own burst")
	}
	if l.Allow(a) {
		t.Fatal("second request from the same IP should be limited")
	}
}

func TestClientIPWithoutPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.9"
	if got := ClientIP(r); got != "192.168.1.9" {
		t.Fatalf("ClientIP = %q", got)
	}
}
