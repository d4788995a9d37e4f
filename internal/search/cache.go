package search

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryCache is an in-process response cache backed by ristretto.
type MemoryCache struct {
	c *ristretto.Cache[string, []byte]
}

// minCounters keeps tiny caches valid; ristretto rejects zero counters.
const minCounters = 100

// NewMemoryCache creates a cache holding at most maxCostBytes of responses.
func NewMemoryCache(maxCostBytes int64) (*MemoryCache, error) {
	if maxCostBytes <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxCostBytes)
	}
	counters := maxCostBytes / 100 * 10
	if counters < minCounters {
		counters = minCounters
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,

		// Cost is the response size only.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{c: c}, nil
}

func (m *MemoryCache) Get(key string) ([]byte, bool) {
	return m.c.Get(key)
}

// Set stores value for ttl and waits for the write to become visible.
func (m *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	m.c.SetWithTTL(key, value, int64(len(value)), ttl)
	m.c.Wait()
}

// Close releases the cache's background goroutines.
func (m *MemoryCache) Close() {
	m.c.Close()
}
