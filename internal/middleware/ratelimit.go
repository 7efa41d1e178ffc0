package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterStaleThreshold  = 10 * time.Minute
)

// RateLimiter applies a token bucket per organization. Per-tenant fairness
// of background indexing is handled by the cost policy; this only shields
// the query endpoint from a single chatty client.
type RateLimiter struct {
	mu          sync.Mutex
	orgs        map[string]*orgLimiter
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

type orgLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		orgs:        make(map[string]*orgLimiter),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (rl *RateLimiter) Allow(orgID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > limiterCleanupInterval {
		for k, v := range rl.orgs {
			if now.Sub(v.lastSeen) > limiterStaleThreshold {
				delete(rl.orgs, k)
			}
		}
		rl.lastCleanup = now
	}

	o, ok := rl.orgs[orgID]
	if !ok {
		o = &orgLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.orgs[orgID] = o
	}
	o.lastSeen = now
	return o.limiter.Allow()
}

// Limit wraps a handler and rejects requests whose organization has
// exhausted its bucket. The organization ID is read from the header set by
// the caller; requests without one share a single bucket.
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get("X-Organization-ID")
		if !rl.Allow(org) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    "RATE_LIMITED",
					"message": "Too many requests for this organization",
				},
			})
			return
		}
		next(w, r)
	}
}
