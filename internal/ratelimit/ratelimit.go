// Package ratelimit implements fixed-window request limiting per client.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"autocall/internal/json"
	"autocall/internal/metrics"
)

// Store counts hits per key inside a fixed window.
type Store interface {
	// Hit records one request for key and returns the count within the current
	// window and the time the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Limiter rejects clients that exceed Max requests per Window.
type Limiter struct {
	store  Store
	max    int64
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
	key    func(*http.Request) string
}

// New returns a limiter allowing max requests per window for each client IP.
func New(store Store, max int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		max:    int64(max),
		window: window,
		logger: logger,
		now:    time.Now,
		key:    ClientIP,
	}
}

// Middleware enforces the limit. Store failures let the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + l.key(r)
		count, resetAt, err := l.store.Hit(r.Context(), key, l.window)
		if err != nil {
			l.logger.Warn("rate limit store", "key", key, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		remaining := l.max - count
		if remaining < 0 {
			remaining = 0
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(l.max, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if count <= l.max {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RateLimited.Inc()
		retryAfter := int64(resetAt.Sub(l.now()).Round(time.Second) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "rate_limited",
				"message": "too many requests, please try again later",
			},
			"retry_after": retryAfter,
		})
	})
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
