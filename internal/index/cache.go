package index

import (
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

const (
	// DefaultTTL is how long a memoized result is served before it is recomputed.
	DefaultTTL = 60 * time.Second
	// DefaultCapacity bounds the number of distinct lookups kept.
	DefaultCapacity = 128

	namesKey = "names"
)

// LookupKey is the memoization key of a single lookup.
type LookupKey struct {
	Alias string
	Owner string
	Name  string
	Wrap  bool
}

// ResultCache holds the two short-lived lookup caches: the full list of
// names and the per-argument lookup results. Both are dropped together by
// InvalidateAll after every successful refresh.
//
// Each InvalidateAll starts a new generation. Results computed under an
// older generation are refused by SetNamesAt and SetLookupAt, so a lookup
// that raced with a refresh cannot repopulate the cache with pre-refresh data.
type ResultCache[V any] struct {
	names   *otter.Cache[string, []string]
	lookups *otter.Cache[LookupKey, V]

	mu         sync.RWMutex
	generation uint64
}

// NewResultCache builds both caches with write-based expiry.
func NewResultCache[V any](ttl time.Duration, capacity int) (*ResultCache[V], error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	names, err := otter.New(&otter.Options[string, []string]{
		MaximumSize:      8,
		ExpiryCalculator: otter.ExpiryWriting[string, []string](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build names cache: %w", err)
	}

	lookups, err := otter.New(&otter.Options[LookupKey, V]{
		MaximumSize:      capacity,
		ExpiryCalculator: otter.ExpiryWriting[LookupKey, V](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup cache: %w", err)
	}

	return &ResultCache[V]{names: names, lookups: lookups}, nil
}

// Names returns the memoized name list.
func (c *ResultCache[V]) Names() ([]string, bool) {
	return c.names.GetIfPresent(namesKey)
}

// SetNamesAt memoizes the name list if no invalidation happened since gen.
func (c *ResultCache[V]) SetNamesAt(gen uint64, names []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if gen != c.generation {
		return false
	}
	c.names.Set(namesKey, names)
	return true
}

// Lookup returns the memoized result for key.
func (c *ResultCache[V]) Lookup(key LookupKey) (V, bool) {
	return c.lookups.GetIfPresent(key)
}

// SetLookupAt memoizes the result for key if no invalidation happened since gen.
func (c *ResultCache[V]) SetLookupAt(gen uint64, key LookupKey, v V) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if gen != c.generation {
		return false
	}
	c.lookups.Set(key, v)
	return true
}

// Generation identifies the current invalidation epoch.
func (c *ResultCache[V]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation
}

// InvalidateAll clears both caches and starts a new generation.
func (c *ResultCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.names.InvalidateAll()
	c.lookups.InvalidateAll()
	c.generation++
}

// Close stops the background goroutines of both caches.
func (c *ResultCache[V]) Close() {
	c.names.StopAllGoroutines()
	c.lookups.StopAllGoroutines()
}
