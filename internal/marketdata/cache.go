// Package marketdata is the Market-Data Cache (C4): the single-writer,
// many-reader top-of-book snapshot store, generalized from the reference
// BookSnapshot to carry freshness and sizes as decimal quantities.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
)

// Cache holds the latest TopOfBook per token. The feed adapter is the sole
// writer; strategies are many concurrent readers.
type Cache struct {
	mu    sync.RWMutex
	books map[string]domain.TopOfBook
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{books: make(map[string]domain.TopOfBook)}
}

// Update overwrites the snapshot for tok.TokenID. A snapshot is either
// fully new or fully old from a reader's perspective — there is no partial
// update.
func (c *Cache) Update(tok domain.TopOfBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[tok.TokenID] = tok
}

// Get returns the latest snapshot for tokenID, if any.
func (c *Cache) Get(tokenID string) (domain.TopOfBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[tokenID]
	return b, ok
}

// FreshTOB returns the snapshot for tokenID only if it exists and is fresh
// as of now; this is what the arbitrage strategy uses to skip stale books.
func (c *Cache) FreshTOB(tokenID string, now time.Time, maxAge time.Duration) (domain.TopOfBook, bool) {
	tob, ok := c.Get(tokenID)
	if !ok || !tob.Fresh(now, maxAge) {
		return domain.TopOfBook{}, false
	}
	return tob, true
}

// Mid returns the mid price for tokenID.
func (c *Cache) Mid(tokenID string) (decimal.Decimal, bool) {
	tob, ok := c.Get(tokenID)
	if !ok {
		return decimal.Zero, false
	}
	return tob.BestBid.Add(tob.BestAsk).Div(decimal.NewFromInt(2)), true
}

// AssetIDs returns all tracked token ids.
func (c *Cache) AssetIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.books))
	for id := range c.books {
		ids = append(ids, id)
	}
	return ids
}
