package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/coursewalk/internal/obs"
)

// DefaultRetryAfterSeconds is sent in Retry-After when a client is throttled.
const DefaultRetryAfterSeconds = 1

// ClientKey identifies the caller by remote IP, honouring the first
// X-Forwarded-For hop when present.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PostMiddleware throttles POST requests per ClientKey and passes every other
// method through. Throttled requests get 429 with Retry-After.
func PostMiddleware(limiter *RateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		key := ClientKey(r)
		l := limiter.GetLimiter(key)
		if !l.Allow() {
			obs.From(r.Context()).Warn("rate_limited", "client", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("Too Many Requests"))
			return
		}

		remaining := int(l.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}
