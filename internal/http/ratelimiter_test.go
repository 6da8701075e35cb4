package http

import (
	"testing"
	"time"
)

func newFrozenRateLimiter(t *testing.T, burst int, rps float64, ttl time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()

	rl := NewRateLimiter(burst, rps, ttl)
	t.Cleanup(rl.Close)

	current := time.Unix(0, 0)
	rl.now = func() time.Time {
		return current
	}
	return rl, &current
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	t.Parallel()

	rl, current := newFrozenRateLimiter(t, 3, 3, time.Minute)
	key := "1.2.3.4"

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(key); !ok {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}

	ok, wait := rl.Allow(key)
	if ok {
		t.Fatalf("expected fourth request to be denied")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("expected a wait under one second, got %s", wait)
	}

	*current = current.Add(time.Second)

	if ok, _ := rl.Allow(key); !ok {
		t.Fatalf("expected request after refill to be allowed")
	}
}

func TestRateLimiterTracksClientsSeparately(t *testing.T) {
	t.Parallel()

	rl, _ := newFrozenRateLimiter(t, 1, 1, time.Minute)

	if ok, _ := rl.Allow("a"); !ok {
		t.Fatalf("expected first client to be allowed")
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Fatalf("expected second client to have its own bucket")
	}
	if ok, _ := rl.Allow("a"); ok {
		t.Fatalf("expected first client to be limited")
	}
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	t.Parallel()

	rl, current := newFrozenRateLimiter(t, 1, 1, time.Minute)

	rl.Allow("idle")
	*current = current.Add(2 * time.Minute)
	rl.Allow("active")

	rl.pruneStale()

	if count := rl.clientCount(); count != 1 {
		t.Fatalf("expected only the active client to remain, got %d", count)
	}
}
