package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter hands out one token bucket per client address.
type ipRateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*limiterInfo
	requestsPerMinute int
	burst             int
	trustProxy        bool
	idleTTL           time.Duration
	lastSweep         time.Time
	now               func() time.Time
}

type limiterInfo struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

func newIPRateLimiter(requestsPerMinute, burst int, trustProxy bool) *ipRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:          make(map[string]*limiterInfo),
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		trustProxy:        trustProxy,
		idleTTL:           10 * time.Minute,
		now:               time.Now,
	}
}

func (i *ipRateLimiter) allow(ip string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.Sub(i.lastSweep) > i.idleTTL {
		for k, info := range i.limiters {
			if now.Sub(info.lastAccessed) > i.idleTTL {
				delete(i.limiters, k)
			}
		}
		i.lastSweep = now
	}

	info, ok := i.limiters[ip]
	if !ok {
		info = &limiterInfo{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(i.requestsPerMinute)), i.burst),
		}
		i.limiters[ip] = info
	}
	info.lastAccessed = now
	return info.limiter.AllowN(now, 1)
}

// limit wraps h with the per-client budget.
func (i *ipRateLimiter) limit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !i.allow(i.clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		h(w, r)
	}
}

// clientIP returns the connection address. Proxy headers are only read
// when the server sits behind a trusted proxy.
func (i *ipRateLimiter) clientIP(r *http.Request) string {
	if i.trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
