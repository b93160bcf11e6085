package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/clipcraft/clipcraft-api/internal/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles expensive actions per authenticated account.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[uuid.UUID]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewRateLimiter allows perMinute events per account with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[uuid.UUID]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether the account may act now.
func (l *RateLimiter) Allow(accountID uuid.UUID) bool {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[accountID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[accountID] = v
	}
	v.lastSeen = now
	for id, other := range l.visitors {
		if now.Sub(other.lastSeen) > l.ttl {
			delete(l.visitors, id)
		}
	}
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Middleware rejects over-limit requests with 429. It must run after Auth.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := GetUserID(r.Context())
		if !l.Allow(accountID) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Duration(float64(time.Second)/float64(l.limit)).Seconds())+1))
			response.TooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
