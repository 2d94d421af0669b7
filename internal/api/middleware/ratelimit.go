package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused key keeps its limiter.
const idleLimiterTTL = 15 * time.Minute

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per request key.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   func(*http.Request) string

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

// NewRateLimiter creates a limiter allowing one request per every with the
// given burst for each key. Idle keys are dropped until ctx is canceled; a nil
// ctx disables cleanup.
func NewRateLimiter(ctx context.Context, every time.Duration, burst int, key func(*http.Request) string) *RateLimiter {
	rl := &RateLimiter{
		limit:    rate.Every(every),
		burst:    burst,
		key:      key,
		limiters: make(map[string]*keyedLimiter),
	}
	if ctx != nil {
		go rl.cleanup(ctx)
	}
	return rl
}

// NewLoginRateLimiter allows 5 attempts per minute per client IP.
func NewLoginRateLimiter(ctx context.Context) *RateLimiter {
	return NewRateLimiter(ctx, 12*time.Second, 5, clientIP)
}

// NewBatchRateLimiter paces batch scan requests per user, falling back to the
// client IP for anonymous requests. It must run after Auth.
func NewBatchRateLimiter(ctx context.Context) *RateLimiter {
	return NewRateLimiter(ctx, 50*time.Millisecond, 40, func(r *http.Request) string {
		if id := UserIDFromContext(r.Context()); id != "" {
			return "user:" + id
		}
		return "ip:" + clientIP(r)
	})
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.get(rl.key(r)).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap is Middleware for a handler func.
func (rl *RateLimiter) Wrap(fn http.HandlerFunc) http.HandlerFunc {
	return rl.Middleware(fn).ServeHTTP
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(idleLimiterTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.prune(now)
		}
	}
}

func (rl *RateLimiter) prune(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > idleLimiterTTL {
			delete(rl.limiters, key)
			n++
		}
	}
	return n
}

// clientIP returns the remote address, honoring X-Forwarded-For (rightmost
// hop) and X-Real-Ip only when the direct peer is a private address.
func clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !isPrivateIP(remote) {
		return remote
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	return remote
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
