// ABOUTME: Thread-safe TTL guard for Idempotency-Key headers on chat requests.
// ABOUTME: A key is claimed per user; repeats inside the window are rejected so retries never double-append a turn.

package idempotency

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long a claimed key blocks repeats.
const DefaultTTL = 10 * time.Minute

// DefaultMaxKeys bounds memory use; the oldest claims are evicted first.
const DefaultMaxKeys = 10000

type claim struct {
	at      time.Time
	element *list.Element
}

// Guard tracks claimed (user, key) pairs. Uses a doubly-linked list to keep
// claim order for O(1) eviction.
type Guard struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // composite keys, oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a Guard. A background goroutine periodically drops expired claims.
func New(ttl time.Duration, maxKeys int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	g := &Guard{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.cleanup()
	return g
}

func compositeKey(userID, key string) string {
	return userID + "\x00" + key
}

// Claim atomically records key for userID. It returns false when the same user
// already claimed the key within the TTL. Different users never collide.
func (g *Guard) Claim(userID, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := compositeKey(userID, key)
	now := g.now()

	if c, ok := g.claims[k]; ok {
		if now.Sub(c.at) < g.ttl {
			return false
		}
		c.at = now
		g.order.MoveToBack(c.element)
		return true
	}

	if len(g.claims) >= g.maxKeys {
		g.evictOldest()
	}

	g.claims[k] = &claim{at: now, element: g.order.PushBack(k)}
	return true
}

// Release forgets a claim so the key can be used again, e.g. after the turn
// it guarded failed without saving anything.
func (g *Guard) Release(userID, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := compositeKey(userID, key)
	if c, ok := g.claims[k]; ok {
		g.order.Remove(c.element)
		delete(g.claims, k)
	}
}

// Len returns the number of tracked claims, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

// evictOldest must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	k, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.claims, k)
}

func (g *Guard) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runCleanup()
		case <-g.done:
			return
		}
	}
}

// runCleanup removes all expired claims.
func (g *Guard) runCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, c := range g.claims {
		if now.Sub(c.at) >= g.ttl {
			g.order.Remove(c.element)
			delete(g.claims, k)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
