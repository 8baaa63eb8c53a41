// Package cache memoizes evaluation results for a short TTL, keyed by a
// quantized fingerprint of the inputs. Sensor jitter that re-fires events
// without a material change collapses onto the same fingerprint, so the
// controller can skip re-dispatching an evaluation.
package cache

import (
	"math"
	"sync"
	"time"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hvac/engine"
)

// Key is the quantized input fingerprint. Temperatures are floored to a
// tenth of a degree.
type Key struct {
	IndoorDeci    int
	OutdoorDeci   int
	Hour          int
	IsWeekday     bool
	Mode          config.SystemMode
	DefrostBucket int64
}

type entry struct {
	result     engine.Result
	insertedAt time.Time
}

// Cache is a bounded TTL map with lazy eviction. A zero TTL disables it.
type Cache struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[Key]entry
}

// New creates a cache with the given TTL in milliseconds (0 disables).
func New(ttlMs int, clk clock.Clock) *Cache {
	return &Cache{
		ttl:     time.Duration(ttlMs) * time.Millisecond,
		clock:   clk,
		entries: make(map[Key]entry),
	}
}

// Fingerprint derives the cache key for one evaluation input set.
func Fingerprint(s engine.Snapshot, mode config.SystemMode, lastDefrost time.Time, hasDefrosted bool) Key {
	k := Key{
		IndoorDeci:  int(math.Floor(s.IndoorTemp * 10)),
		OutdoorDeci: int(math.Floor(s.OutdoorTemp * 10)),
		Hour:        s.Hour,
		IsWeekday:   s.IsWeekday,
		Mode:        mode,
	}
	if hasDefrosted {
		k.DefrostBucket = lastDefrost.Unix()
	} else {
		k.DefrostBucket = -1
	}
	return k
}

// Get returns the unexpired cached result for k, evicting it lazily when
// the TTL has passed.
func (c *Cache) Get(k Key) (engine.Result, bool) {
	if c.ttl <= 0 {
		return engine.Result{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return engine.Result{}, false
	}
	if c.clock.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, k)
		return engine.Result{}, false
	}
	return e.result, true
}

// Put stores a result. Expired entries are swept on insert, which bounds
// the map to the number of distinct fingerprints seen within one TTL.
func (c *Cache) Put(k Key, r engine.Result) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if c.clock.Since(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}

	c.entries[k] = entry{result: r, insertedAt: c.clock.Now()}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
