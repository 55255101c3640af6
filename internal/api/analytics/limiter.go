package analytics

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 3 * time.Minute
	limiterSweepEvery = 1024
	unknownClientKey  = "unknown"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter is a per-client token bucket allowing perMinute requests
// per minute, with a burst of the same size
type ClientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	calls   int
}

// NewClientLimiter creates a limiter. perMinute <= 0 disables limiting.
func NewClientLimiter(perMinute int) *ClientLimiter {
	if perMinute <= 0 {
		return &ClientLimiter{limit: rate.Inf}
	}
	return &ClientLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow consumes one token for the client
func (l *ClientLimiter) Allow(client string) bool {
	if l.limit == rate.Inf {
		return true
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%limiterSweepEvery == 0 {
		l.sweep(now)
	}

	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops clients idle long enough to have a full bucket again
func (l *ClientLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

// ClientIP is the first X-Forwarded-For hop, else the remote address host
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return unknownClientKey
}
