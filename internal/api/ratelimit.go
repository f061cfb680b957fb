package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter guards the chat endpoint with a global limit plus a
// per-client limit keyed by remote address.
type RateLimiter struct {
	global  *rate.Limiter
	clients map[string]*rate.Limiter
	mu      sync.RWMutex

	perSecond float64
	burst     int
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst, applied both globally and per client.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		global:    rate.NewLimiter(rate.Limit(perSecond)*8, burst*8),
		clients:   make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

// Allow reports whether a request from clientID may proceed now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.clientLimiter(clientID).Allow()
}

func (rl *RateLimiter) clientLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.clients[clientID]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.clients[clientID]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
	rl.clients[clientID] = limiter
	return limiter
}
