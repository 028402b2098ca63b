package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/butterflyhq/butterfly/internal/metrics"
)

// RateLimiter enforces at most limit requests per window for each client key.
// Every client keeps a log of request timestamps which is pruned on each check.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	limit   int
	window  time.Duration

	now      func() time.Time
	onDenied func(r *http.Request, key string)

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RateLimitOption {
	return func(rl *RateLimiter) { rl.now = now }
}

// WithDeniedHook is called for every rejected request.
func WithDeniedHook(fn func(r *http.Request, key string)) RateLimitOption {
	return func(rl *RateLimiter) { rl.onDenied = fn }
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration, opts ...RateLimitOption) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		clients: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval(window))
	go rl.cleanup()

	return rl
}

func cleanupInterval(window time.Duration) time.Duration {
	if window < time.Minute {
		return time.Minute
	}
	return window
}

// SetLimits replaces the limit and window. Existing request logs are kept.
func (rl *RateLimiter) SetLimits(limit int, window time.Duration) {
	if limit < 1 || window <= 0 {
		return
	}
	rl.mu.Lock()
	rl.limit = limit
	rl.window = window
	rl.mu.Unlock()
}

// Limits returns the current limit and window.
func (rl *RateLimiter) Limits() (int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limit, rl.window
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.check(key)
	return ok
}

// check returns whether the request is allowed and, when it is not, how long
// until the oldest logged request leaves the window.
func (rl *RateLimiter) check(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	log := prune(rl.clients[key], now.Add(-rl.window))

	if len(log) >= rl.limit {
		rl.clients[key] = log
		return false, log[0].Add(rl.window).Sub(now)
	}

	rl.clients[key] = append(log, now)
	return true, 0
}

// prune drops timestamps at or before cutoff. The log is ordered.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}

// Middleware returns an HTTP middleware that enforces rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := ClientKey(r)
		ok, retryAfter := rl.check(key)
		if !ok {
			metrics.RateLimitedTotal.Inc()
			if rl.onDenied != nil {
				rl.onDenied(r, key)
			}
			writeRateLimited(w, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "Rate limit exceeded. Please try again later.",
	})
}

// ClientKey identifies the caller by the host part of RemoteAddr.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanup removes clients whose log has fully expired
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.window)
			for key, log := range rl.clients {
				if len(log) == 0 || !log[len(log)-1].After(cutoff) {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCh)
	})
}
