package http

import (
	"math"
	"sync"
	"time"
)

type rateLimiterClient struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

// RateLimiter implements a token bucket per client identifier. Generation calls are the
// expensive path it protects.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*rateLimiterClient
	maxTokens  float64
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter constructs a rate limiter and starts pruning idle clients every ttl.
func NewRateLimiter(maxTokens int, refillPerSecond float64, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*rateLimiterClient),
		maxTokens:  float64(maxTokens),
		refillRate: refillPerSecond,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	if ttl > 0 {
		go rl.pruneLoop()
	}

	return rl
}

// Close stops the pruning goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stop)
	})
}

// Allow consumes a token for the provided key if possible. When the bucket is empty it
// reports how long until the next token is available.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, ok := rl.clients[key]
	if !ok {
		client = &rateLimiterClient{
			tokens: rl.maxTokens,
			last:   now,
		}
		rl.clients[key] = client
	}

	if elapsed := now.Sub(client.last).Seconds(); elapsed > 0 {
		client.tokens = math.Min(rl.maxTokens, client.tokens+elapsed*rl.refillRate)
		client.last = now
	}
	client.lastSeen = now

	if client.tokens < 1 {
		missing := 1 - client.tokens
		wait := time.Duration(missing / rl.refillRate * float64(time.Second))
		return false, wait
	}

	client.tokens--
	return true, 0
}

func (rl *RateLimiter) pruneLoop() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.pruneStale()
		}
	}
}

func (rl *RateLimiter) pruneStale() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
