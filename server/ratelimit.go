package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter rate-limits claim submissions per client IP. Idle entries are
// evicted so the map does not grow with every address ever seen.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdleEviction = 10 * time.Minute

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &ipLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// SetRate retunes the limiter. Existing visitors pick up the new rate on
// their next request.
func (l *ipLimiter) SetRate(perMinute, burst int) {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = rate.Limit(float64(perMinute) / 60.0)
	l.burst = burst
	for _, v := range l.visitors {
		v.limiter.SetLimit(l.limit)
		v.limiter.SetBurst(l.burst)
	}
}

// Allow reports whether a request from the address is within budget.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	for addr, other := range l.visitors {
		if now.Sub(other.lastSeen) > visitorIdleEviction {
			delete(l.visitors, addr)
		}
	}

	return v.limiter.Allow()
}

// requireWithinRate enforces the submission rate limit on a request.
func (s *Server) requireWithinRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter.Allow(r.RemoteAddr) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "Submission rate limit exceeded")
	return false
}
