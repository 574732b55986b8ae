package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// submitCost is the token price of POST /storybook/start. One submission
	// fans out into more than a dozen provider calls.
	submitCost = 5

	limiterIdleTTL     = 3 * time.Minute
	limiterPruneEvery  = time.Minute
	maxRetryAfterDelay = time.Hour
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client address.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

// reserve takes cost tokens for client. It returns zero when the request may
// proceed, otherwise how long the client should wait.
func (c *clientLimiters) reserve(client string, cost int, now time.Time) time.Duration {
	if cost > c.burst {
		cost = c.burst
	}

	c.mu.Lock()
	entry, ok := c.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = entry
	}
	entry.lastSeen = now
	c.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, cost)
	if !reservation.OK() {
		return maxRetryAfterDelay
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
	}
	return delay
}

func (c *clientLimiters) prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for client, entry := range c.clients {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(c.clients, client)
		}
	}
}

// RateLimit applies a per-client token bucket. Storybook submissions cost
// more than polls, and /healthz is never limited. Idle clients are pruned
// until ctx is done.
func RateLimit(ctx context.Context, rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	limiters := newClientLimiters(rps, burst)

	go func() {
		ticker := time.NewTicker(limiterPruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiters.prune(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			cost := 1
			if r.Method == http.MethodPost && r.URL.Path == "/storybook/start" {
				cost = submitCost
			}
			if wait := limiters.reserve(clientAddress(r.RemoteAddr), cost, time.Now()); wait > 0 {
				seconds := int(math.Ceil(wait.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				WriteError(w, r, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}
