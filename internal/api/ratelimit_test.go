package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestLimiter(t *testing.T, limit int) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewRateLimiter(client, limit, logger)
}

func limiterRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	r.Header.Set("X-Real-IP", ip)
	return r
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := setupTestLimiter(t, 5)

	for i := 0; i < 5; i++ {
		if !rl.Allow(limiterRequest("10.0.0.1")) {
			t.Errorf("request %d should be allowed (limit=5)", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := setupTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		rl.Allow(limiterRequest("10.0.0.1"))
	}

	if rl.Allow(limiterRequest("10.0.0.1")) {
		t.Error("request should be blocked when over limit")
	}
}

func TestRateLimiter_ZeroLimitAllowsAll(t *testing.T) {
	rl := setupTestLimiter(t, 0)

	for i := 0; i < 100; i++ {
		if !rl.Allow(limiterRequest("10.0.0.1")) {
			t.Errorf("request %d should be allowed with limit=0 (unlimited)", i+1)
		}
	}
}

func TestRateLimiter_IsolationBetweenCallers(t *testing.T) {
	rl := setupTestLimiter(t, 2)

	for i := 0; i < 2; i++ {
		rl.Allow(limiterRequest("10.0.0.1"))
	}

	if rl.Allow(limiterRequest("10.0.0.1")) {
		t.Error("first caller should be blocked")
	}
	if !rl.Allow(limiterRequest("10.0.0.2")) {
		t.Error("second caller should be allowed — limits are per-caller")
	}
}

func TestRateLimiter_MiddlewareReturns429(t *testing.T) {
	rl := setupTestLimiter(t, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limiterRequest("10.0.0.1"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want 202", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limiterRequest("10.0.0.1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}
