// ABOUTME: Bounded, time-windowed record of message ids already accepted from agents
// ABOUTME: Lets transports acknowledge a retried message without dispatching it twice

package dedupe

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an accepted message id is remembered.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds memory when agents send faster than the TTL drains.
	DefaultMaxEntries = 100_000

	sweepInterval = time.Minute
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a TTL, evicting the oldest once maxEntries is reached.
type Cache struct {
	mu         sync.Mutex
	index      map[string]*list.Element
	order      *list.List // *entry values, oldest at front
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its background sweeper. Non-positive
// arguments fall back to the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Cache{
		index:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key builds the cache key for a message id scoped to its agent. The agent
// id is length-prefixed so ids containing ':' cannot collide across agents.
func Key(agentID, messageID string) string {
	return strconv.Itoa(len(agentID)) + ":" + agentID + ":" + messageID
}

// Seen reports whether key was recorded within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	return ok && c.live(el.Value.(*entry))
}

// CheckAndMark records key and reports whether it was already present.
// The check and the write happen under one lock so concurrent retries of
// the same message see exactly one false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if c.live(e) {
			return true
		}
		e.seenAt = c.now()
		c.order.MoveToBack(el)
		return false
	}

	for len(c.index) >= c.maxEntries {
		c.removeElement(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
	return false
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Sweep drops expired keys. Entries are ordered by seenAt so it stops at
// the first live one.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if c.live(el.Value.(*entry)) {
			break
		}
		c.removeElement(el)
		removed++
	}
	return removed
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache) live(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
