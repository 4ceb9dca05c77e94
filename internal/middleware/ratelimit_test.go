package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimiter(t *testing.T, maxReqs int, window time.Duration) (*RateLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(client, maxReqs, window)
	rl.now = func() time.Time { return now }
	return rl, mr, &now
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota/global", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _, _ := setupRateLimiter(t, 5, time.Minute)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := doRequest(handler, "192.168.1.1:12345")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _, now := setupRateLimiter(t, 3, time.Minute)
	*now = now.Add(15 * time.Second)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(handler, "10.0.0.1:12345")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := doRequest(handler, "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "too many requests")
}

func TestRateLimiter_NextWindowResets(t *testing.T) {
	rl, _, now := setupRateLimiter(t, 1, time.Minute)
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:1").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.2:1").Code)

	*now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:1").Code)
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _, _ := setupRateLimiter(t, 2, time.Minute)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		doRequest(handler, "1.1.1.1:1")
	}

	assert.Equal(t, http.StatusOK, doRequest(handler, "2.2.2.2:1").Code)
}

func TestRateLimiter_KeysExpire(t *testing.T) {
	rl, mr, _ := setupRateLimiter(t, 2, time.Minute)
	doRequest(rl.Middleware(okHandler()), "4.4.4.4:1")

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 61*time.Second, mr.TTL(keys[0]))
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	rl, mr, _ := setupRateLimiter(t, 1, time.Minute)
	mr.Close()

	rec := doRequest(rl.Middleware(okHandler()), "3.3.3.3:1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.1.1.1:5555", want: "10.1.1.1"},
		{name: "forwarded for", xff: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.1:1", want: "203.0.113.7"},
		{name: "garbage forwarded for", xff: "not-an-ip", realIP: "198.51.100.2", remoteAddr: "10.0.0.1:1", want: "198.51.100.2"},
		{name: "real ip", realIP: "198.51.100.3", remoteAddr: "10.0.0.1:1", want: "198.51.100.3"},
		{name: "remote addr without port", remoteAddr: "10.2.2.2", want: "10.2.2.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
