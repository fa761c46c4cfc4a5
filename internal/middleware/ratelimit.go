package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/services/ratelimit"
)

// RateLimit applies the per-identity limiter to the transaction routes.
// A nil limiter disables limiting; limiter backend failures fail open
// because the limiter protects capacity, not correctness.
func RateLimit(limiter ratelimit.Limiter, window time.Duration, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			identity := r.Header.Get(auth.HeaderClaimedIdentity)
			if identity == "" {
				identity = r.RemoteAddr
			}

			allowed, err := limiter.Allow(r.Context(), identity)
			if err != nil {
				logger.Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := int(window.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "RATE_LIMITED",
						"message": "too many requests for this identity",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
