package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/auth"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !rl.Allow("key") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow("key") {
		t.Error("6th request should be denied")
	}
	if !rl.Allow("other") {
		t.Error("keys are limited independently")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(3, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		rl.Allow("key")
	}

	if rl.Allow("key") {
		t.Error("should be blocked within window")
	}

	time.Sleep(15 * time.Millisecond)

	if !rl.Allow("key") {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5, 10*time.Millisecond)

	rl.Allow("expired")
	time.Sleep(15 * time.Millisecond)
	rl.Allow("active")

	if n := rl.Cleanup(); n != 1 {
		t.Errorf("cleanup removed %d windows, want 1", n)
	}
	if rl.windows.Len() != 1 {
		t.Errorf("remaining windows = %d, want 1", rl.windows.Len())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	keyFunc := func(r *http.Request) string { return "test" }

	handler := RateLimit(rl, keyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest("POST", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestByUser(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := ByUser(req); got != "ip:203.0.113.9" {
		t.Errorf("anonymous key = %q", got)
	}

	req = req.WithContext(auth.WithAuth(context.Background(), auth.AuthContext{UserID: 12}))
	if got := ByUser(req); got != "user:12" {
		t.Errorf("user key = %q", got)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := RealIP(req); got != "198.51.100.7" {
		t.Errorf("RealIP = %q", got)
	}
	req.Header.Set("CF-Connecting-IP", "192.0.2.4")
	if got := RealIP(req); got != "192.0.2.4" {
		t.Errorf("RealIP = %q", got)
	}
}
