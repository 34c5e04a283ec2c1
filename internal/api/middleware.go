// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context keys for request metadata
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	RepoKey      contextKey = "repo"
)

// maxBodyBytes caps request bodies; memory content tops out at 100 KiB
// plus header overhead.
const maxBodyBytes = 256 * 1024

// RequestID tags every request with a uuid, echoed in the response for
// log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(RequestIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// RepoContext extracts the repo identity header and adds it to context.
func RepoContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo := r.Header.Get("X-Mem-Repo"); repo != "" {
			ctx = context.WithValue(ctx, RepoKey, repo)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRepo returns the repo identity from context.
func GetRepo(ctx context.Context) string {
	if v := ctx.Value(RepoKey); v != nil {
		return v.(string)
	}
	return ""
}

// MaxBodySize rejects oversized request bodies before handlers read them.
func MaxBodySize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// RateLimiter is a fixed-window per-IP limiter. Good enough for a small
// team API; swap for something distributed behind a real load balancer.
type RateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
	window time.Duration
	reset  time.Time
}

// NewRateLimiter allows limit requests per window per remote address.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counts: map[string]int{},
		limit:  limit,
		window: window,
		reset:  time.Now().Add(window),
	}
}

// Middleware enforces the limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.mu.Lock()
		if time.Now().After(rl.reset) {
			rl.counts = map[string]int{}
			rl.reset = time.Now().Add(rl.window)
		}
		rl.counts[r.RemoteAddr]++
		over := rl.counts[r.RemoteAddr] > rl.limit
		rl.mu.Unlock()

		if over {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware allows the given origins.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Mem-Repo")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
