// Package oracle supplies asset prices to quoting and health calculations.
package oracle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"defihub/observability"
	"defihub/protocol"
)

// DefaultMaxAge matches the staleness bound the hub contract enforces on its
// own oracle reads.
const DefaultMaxAge = time.Hour

// Quote is a price for one asset in the quote currency.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// Cache keeps the latest quote per symbol and refuses to serve stale ones.
type Cache struct {
	mu      sync.RWMutex
	quotes  map[string]Quote
	maxAge  time.Duration
	now     func() time.Time
	metrics *observability.OracleMetrics
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock injects the time source used for staleness checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheMetrics overrides the metrics recorder. A nil recorder disables metrics.
func WithCacheMetrics(m *observability.OracleMetrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache constructs a cache. A non-positive maxAge selects DefaultMaxAge.
func NewCache(maxAge time.Duration, opts ...CacheOption) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	c := &Cache{
		quotes:  map[string]Quote{},
		maxAge:  maxAge,
		now:     time.Now,
		metrics: observability.Oracle(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Put stores q unless it is older than the quote already held.
func (c *Cache) Put(q Quote) {
	key := normalize(q.Symbol)
	if key == "" || q.Price.Sign() <= 0 {
		return
	}
	q.Symbol = key
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.quotes[key]; ok && prev.Timestamp.After(q.Timestamp) {
		return
	}
	c.quotes[key] = q
}

// Get returns the cached quote regardless of age.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[normalize(symbol)]
	return q, ok
}

// Price returns a fresh price for symbol or an error wrapping
// protocol.ErrPriceUnavailable.
func (c *Cache) Price(symbol string) (decimal.Decimal, error) {
	q, ok := c.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", protocol.ErrPriceUnavailable, normalize(symbol))
	}
	age := c.now().Sub(q.Timestamp)
	c.metrics.RecordFreshness(q.Symbol, age)
	if age > c.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s quote is %s old", protocol.ErrPriceUnavailable, q.Symbol, age.Truncate(time.Second))
	}
	if age < -5*time.Second {
		return decimal.Zero, fmt.Errorf("%w: %s quote is from the future", protocol.ErrPriceUnavailable, q.Symbol)
	}
	return q.Price, nil
}

// MaxAge returns the staleness bound.
func (c *Cache) MaxAge() time.Duration {
	return c.maxAge
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
