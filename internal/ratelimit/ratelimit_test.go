package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"autocall/internal/json"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/settings", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimiterRejectsAfterMax(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	limiter := New(store, 3, 15*time.Minute, testLogger())
	limiter.now = store.now
	h := limiter.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(h, "10.0.0.1:5000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := doRequest(h, "10.0.0.1:5001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		RetryAfter int `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error.Code)
	assert.Equal(t, 900, body.RetryAfter)

	// Another client is unaffected.
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:5000").Code)

	// The window resets.
	now = now.Add(15 * time.Minute)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000").Code)
}

func TestMemoryStorePrunesExpiredWindows(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := store.Hit(ctx, key, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len())

	now = now.Add(2 * time.Minute)
	count, resetAt, err := store.Hit(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, now.Add(time.Minute), resetAt)
	assert.Equal(t, 1, store.Len())
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, assert.AnError
}

func TestLimiterFailsOpen(t *testing.T) {
	h := New(failingStore{}, 1, time.Minute, testLogger()).Middleware(okHandler())
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", ClientIP(req))
	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("AUTOCALL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AUTOCALL_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := NewRedisStoreFromURL(ctx, url)
	require.NoError(t, err)
	defer store.Close()

	key := "ratelimit:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer store.client.Del(ctx, key)
	for i := int64(1); i <= 3; i++ {
		count, resetAt, err := store.Hit(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)
	}
}
