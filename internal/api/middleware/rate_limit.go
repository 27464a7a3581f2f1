package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"flock/internal/engine/ratelimit"
	"flock/internal/platform/config"
)

// RateLimitMiddleware holds one sliding-window limiter per endpoint
// class. All limiters share the same store, so limits hold across
// server instances when the store is Redis.
type RateLimitMiddleware struct {
	limiters map[string]*ratelimit.Limiter
}

func NewRateLimitMiddleware(store ratelimit.Store, cfg config.RateLimitConfig) *RateLimitMiddleware {
	limiters := make(map[string]*ratelimit.Limiter)
	for class, opts := range ratelimit.DefaultClasses(cfg) {
		opts.OnLimitExceeded = func(key string, r *http.Request) {
			log.Warn().
				Str("key", key).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("rate limit exceeded")
		}
		limiters[class] = ratelimit.New(store, opts)
	}
	return &RateLimitMiddleware{limiters: limiters}
}

// Class wraps a handler with the named limiter. Every response carries
// the X-RateLimit-* headers; rejections get a 429 JSON body plus
// Retry-After.
func (m *RateLimitMiddleware) Class(name string) func(http.HandlerFunc) http.HandlerFunc {
	limiter, ok := m.limiters[name]

	return func(next http.HandlerFunc) http.HandlerFunc {
		if !ok {
			log.Error().Str("class", name).Msg("unknown rate limit class, passing through")
			return next
		}

		return func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Check(r.Context(), r)
			if err != nil {
				// Fail open; the limiter already returned an admit decision.
				log.Warn().Err(err).Str("class", name).Msg("rate limit store error")
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))
			w.Header().Set("X-RateLimit-Used", strconv.Itoa(res.TotalHits))

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":      "Too many requests",
					"message":    "Rate limit exceeded for " + name + " endpoints. Please try again later.",
					"retryAfter": res.RetryAfter,
				})
				return
			}

			next(w, r)
		}
	}
}
