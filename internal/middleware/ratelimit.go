package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps admin API calls per client IP using fixed windows
// counted in Redis.
type RateLimiter struct {
	client  redis.Cmdable
	prefix  string
	maxReqs int64
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter that allows maxReqs per window.
func NewRateLimiter(client redis.Cmdable, maxReqs int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:  client,
		prefix:  "ratelimit:admin:",
		maxReqs: int64(maxReqs),
		window:  window,
		now:     time.Now,
	}
}

// Middleware enforces the limit. On Redis errors it lets the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		now := rl.now()

		count, err := rl.hit(r.Context(), ip, now)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.maxReqs - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.maxReqs, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > rl.maxReqs {
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter(now)))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// hit counts one request in the current window and returns the total so far.
func (rl *RateLimiter) hit(ctx context.Context, ip string, now time.Time) (int64, error) {
	key := fmt.Sprintf("%s%s:%d", rl.prefix, ip, now.UnixNano()/int64(rl.window))

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// retryAfter is the number of whole seconds until the current window closes.
func (rl *RateLimiter) retryAfter(now time.Time) int {
	elapsed := time.Duration(now.UnixNano() % int64(rl.window))
	left := rl.window - elapsed
	secs := int((left + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientIP prefers the first valid X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
