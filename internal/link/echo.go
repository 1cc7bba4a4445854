package link

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
)

// DefaultEchoWindow is how long an injected frame is remembered.
const DefaultEchoWindow = 2 * time.Second

const echoCacheSize = 1024

// EchoCache remembers recently injected frames by hash so the capture loop can
// drop them instead of sending them back through the tunnel. The socket that
// injects a frame never captures it itself; copies only come back when the
// segment reflects them, as bridges and macvlan setups can. A nil *EchoCache
// is valid and remembers nothing.
type EchoCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[uint64, int]
}

// NewEchoCache returns a cache holding frames for window. A non-positive
// window returns nil.
func NewEchoCache(window time.Duration) *EchoCache {
	if window <= 0 {
		return nil
	}
	return &EchoCache{lru: expirable.NewLRU[uint64, int](echoCacheSize, nil, window)}
}

// Remember records one injection of frame.
func (c *EchoCache) Remember(frame []byte) {
	if c == nil {
		return
	}
	key := murmur3.Sum64(frame)

	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.lru.Get(key)
	c.lru.Add(key, n+1)
}

// Forget undoes one Remember, used when the injection failed.
func (c *EchoCache) Forget(frame []byte) {
	if c == nil {
		return
	}
	c.consume(murmur3.Sum64(frame))
}

// Seen reports whether frame was injected within the window. A positive
// answer consumes one remembered injection.
func (c *EchoCache) Seen(frame []byte) bool {
	if c == nil {
		return false
	}
	return c.consume(murmur3.Sum64(frame))
}

func (c *EchoCache) consume(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	if n <= 1 {
		c.lru.Remove(key)
	} else {
		c.lru.Add(key, n-1)
	}
	return true
}
