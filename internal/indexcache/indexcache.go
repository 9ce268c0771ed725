// Package indexcache is the Index Weight Provider (C5): a TTL-cached map
// of {index -> constituents}, refreshed by a single in-flight loader per
// index so concurrent readers never block on the network.
package indexcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/polyfund/multifund-trader/internal/domain"
)

// Loader fetches the current constituent snapshot for an index from the
// analytics store.
type Loader func(ctx context.Context, indexID string) ([]domain.IndexConstituent, error)

type entry struct {
	constituents []domain.IndexConstituent
	loadedAt     time.Time
}

// Cache is the Index Weight Provider.
type Cache struct {
	loader Loader
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
}

// New creates a Cache that refreshes via loader with the given TTL.
func New(loader Loader, ttl time.Duration) *Cache {
	return &Cache{loader: loader, ttl: ttl, entries: make(map[string]entry)}
}

// Get returns the current constituents for indexID. If no snapshot exists
// yet, Get blocks for the first load; concurrent first loads for the same
// indexID are coalesced into one loader call via singleflight. Once a
// snapshot exists, Get returns it immediately: when it is older than the
// TTL, Get also starts (or joins) one background refresh for indexID and
// still returns the previous snapshot without waiting for it.
func (c *Cache) Get(ctx context.Context, indexID string) ([]domain.IndexConstituent, error) {
	c.mu.RLock()
	e, ok := c.entries[indexID]
	c.mu.RUnlock()

	if ok && time.Since(e.loadedAt) <= c.ttl {
		return e.constituents, nil
	}

	load := func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[indexID]
		c.mu.RUnlock()
		if ok && time.Since(e.loadedAt) <= c.ttl {
			return e.constituents, nil
		}

		fresh, err := c.loader(ctx, indexID)
		if err != nil {
			if ok {
				// Readers never block on a failed refresh; fall back to
				// the previous snapshot rather than propagating the error.
				return e.constituents, nil
			}
			return nil, err
		}

		c.mu.Lock()
		c.entries[indexID] = entry{constituents: fresh, loadedAt: time.Now()}
		c.mu.Unlock()
		return fresh, nil
	}

	if ok {
		// Stale: start (or join) one background refresh and serve the
		// previous snapshot.
		c.group.DoChan(indexID, load)
		return e.constituents, nil
	}

	result, err, _ := c.group.Do(indexID, load)
	if err != nil {
		return nil, err
	}
	return result.([]domain.IndexConstituent), nil
}

// WeightOf returns the weight for proxyAddress within indexID's cached
// snapshot, or zero if not a member. proxyAddress is compared
// case-insensitively per the Index Constituent invariant.
func WeightOf(constituents []domain.IndexConstituent, proxyAddress string) (domain.IndexConstituent, bool) {
	for _, c := range constituents {
		if equalFoldAddr(c.ProxyAddress, proxyAddress) {
			return c, true
		}
	}
	return domain.IndexConstituent{}, false
}

func equalFoldAddr(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
