// Package querycache is the read cache in front of the store. Keys are a base
// name ("orders") optionally followed by "|" and a variant ("orders|limit=50").
// Invalidating a base drops every variant.
package querycache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const sep = "|"

// Key joins a base and a variant.
func Key(base, variant string) string {
	if variant == "" {
		return base
	}
	return base + sep + variant
}

func baseOf(key string) string {
	if i := strings.Index(key, sep); i >= 0 {
		return key[:i]
	}
	return key
}

type Stats struct {
	Items         int   `json:"items"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stale         int64 `json:"stale"`
	Invalidations int64 `json:"invalidations"`
}

type Cache struct {
	store  *gocache.Cache
	logger *zerolog.Logger

	mu   sync.Mutex
	gens map[string]uint64

	hits, misses, stale, invalidations atomic.Int64
}

// New returns a cache whose entries expire after ttl.
func New(ttl, cleanup time.Duration, logger *zerolog.Logger) *Cache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{
		store:  gocache.New(ttl, cleanup),
		logger: logger,
		gens:   make(map[string]uint64),
	}
}

// Load returns the cached value for key or runs fetch. A fetch that was
// overtaken by an invalidation of its base is returned but not stored.
func (c *Cache) Load(key string, fetch func() (any, error)) (any, bool, error) {
	if v, ok := c.store.Get(key); ok {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)

	base := baseOf(key)
	c.mu.Lock()
	gen := c.gens[base]
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[base] != gen {
		c.stale.Add(1)
		c.logger.Debug().Str("key", key).Msg("stale fetch not cached")
		return v, false, nil
	}
	c.store.SetDefault(key, v)
	return v, false, nil
}

// Invalidate drops every entry under the given bases.
func (c *Cache) Invalidate(bases ...string) {
	if len(bases) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.store.Items()
	for _, b := range bases {
		b = baseOf(b)
		c.gens[b]++
		c.store.Delete(b)
		prefix := b + sep
		for k := range items {
			if strings.HasPrefix(k, prefix) {
				c.store.Delete(k)
			}
		}
	}
	c.invalidations.Add(int64(len(bases)))
	c.logger.Debug().Strs("keys", bases).Msg("cache invalidated")
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.gens {
		c.gens[k]++
	}
	c.store.Flush()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Items:         c.store.ItemCount(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stale:         c.stale.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
