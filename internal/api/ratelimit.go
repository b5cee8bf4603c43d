package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles event ingestion per caller with a sliding window
// over Redis. A Lua script atomically expires old entries, checks the
// count, and records the new request.
type RateLimiter struct {
	client *redis.Client
	logger *slog.Logger
	script *redis.Script
	limit  int
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

// NewRateLimiter allows up to limit ingestion requests per caller per
// second. A limit of zero disables throttling.
func NewRateLimiter(client *redis.Client, limit int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		script: slidingWindowScript,
		limit:  limit,
	}
}

// Allow reports whether one more request from this caller fits the window.
// Fails open when Redis is unreachable.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	key := "rl:" + r.RemoteAddr
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		key = "rl:" + ip
	}
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(r.Context(), rl.client, []string{key},
		now, window, rl.limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err)
		return true
	}

	return result == 1
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r) {
			rl.logger.Debug("rate limited",
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
