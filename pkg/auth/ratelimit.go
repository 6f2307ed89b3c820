package auth

import (
	"net/http"
	"time"

	"github.com/commitlabs/core/pkg/api"
	"github.com/commitlabs/core/pkg/ratelimit"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// It extracts the actor ID from the authenticated Principal (falls back to
// remote IP). On rate limit exceeded, it returns 429 with a Retry-After
// header. Unlike the ledger's in-engine quotas this edge limiter fails open
// on store errors to avoid blocking all traffic.
func RateLimitMiddleware(store ratelimit.Store, rule ratelimit.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no store configured (dev mode)
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = principal.GetID()
			}

			allowed, err := store.Allow(r.Context(), "http|"+actorID, rule, time.Now())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := int(rule.Window.Seconds()) / max(rule.MaxCalls, 1)
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
