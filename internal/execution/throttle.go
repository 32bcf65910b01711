package execution

import (
	"sync"
	"time"
)

// Throttle admits a key at most once per TTL window. It rate-limits
// diagnostic logs per symbol and drives per-symbol cooldowns. It is safe for
// concurrent use.
type Throttle struct {
	seen map[string]time.Time // key -> last admitted time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewThrottle creates a Throttle that admits each key once per ttl.
func NewThrottle(ttl time.Duration) *Throttle {
	return &Throttle{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Allow returns true if key has not been admitted within the TTL window and
// records it. Otherwise it returns false and leaves the record untouched.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.seen[key]; ok && now.Sub(last) < t.ttl {
		return false
	}
	t.seen[key] = now
	return true
}

// Mark records key as admitted now without checking the window.
func (t *Throttle) Mark(key string) {
	t.mu.Lock()
	t.seen[key] = t.now()
	t.mu.Unlock()
}

// Active reports whether key was admitted within the TTL window, without
// recording anything.
func (t *Throttle) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[key]
	return ok && t.now().Sub(last) < t.ttl
}

// Remaining returns how long until key is admitted again.
func (t *Throttle) Remaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[key]
	if !ok {
		return 0
	}
	if d := t.ttl - t.now().Sub(last); d > 0 {
		return d
	}
	return 0
}

// Cleanup removes entries that have expired beyond the TTL. Call it
// periodically to bound memory.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, ts := range t.seen {
		if now.Sub(ts) >= t.ttl {
			delete(t.seen, key)
		}
	}
}
