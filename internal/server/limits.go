package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openskirmish/skirmish-server-go/internal/config"
)

const limiterIdleCutoff = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles HTTP requests per client IP with a token bucket
// per address. Idle buckets are dropped so the map cannot grow without
// bound.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a limiter from configuration and starts its
// cleanup loop. Call Stop when the server shuts down.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		limiters: make(map[string]*ipLimiter),
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Middleware rejects over-limit requests with 429 before they reach the
// router.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			recordRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterIdleCutoff / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := time.Now().Add(-limiterIdleCutoff)

	rl.mu.Lock()
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
	rl.mu.Unlock()
}

// connLimiter caps concurrent WebSocket connections per IP.
type connLimiter struct {
	maxPerIP int

	mu     sync.Mutex
	counts map[string]int
}

func newConnLimiter(maxPerIP int) *connLimiter {
	return &connLimiter{
		maxPerIP: maxPerIP,
		counts:   make(map[string]int),
	}
}

// acquire reserves a connection slot for ip. The caller must release the
// slot when the connection closes.
func (cl *connLimiter) acquire(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.maxPerIP > 0 && cl.counts[ip] >= cl.maxPerIP {
		return false
	}
	cl.counts[ip]++
	return true
}

func (cl *connLimiter) release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.counts[ip] <= 1 {
		delete(cl.counts, ip)
		return
	}
	cl.counts[ip]--
}

func (cl *connLimiter) count(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.counts[ip]
}

// clientIP extracts the originating client address, preferring forwarding
// headers set by a fronting proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
