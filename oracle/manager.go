package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"defihub/observability"
	"defihub/protocol"
)

// Snapshot is an aggregated price written to the recorder after each refresh.
type Snapshot struct {
	Symbol   string
	Median   decimal.Decimal
	Feeders  []string
	Observed time.Time
}

// SnapshotRecorder persists aggregated prices.
type SnapshotRecorder interface {
	RecordPrice(ctx context.Context, snap Snapshot) error
}

// Manager orchestrates periodic aggregation across configured sources.
type Manager struct {
	logger   *slog.Logger
	cache    *Cache
	sources  []Source
	symbols  []string
	interval time.Duration
	minFeeds int
	recorder SnapshotRecorder
	metrics  *observability.OracleMetrics
	now      func() time.Time
	once     sync.Once
	mu       sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder persists every aggregated price.
func WithRecorder(r SnapshotRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithMinFeeds requires at least n agreeing sources before a price is cached.
func WithMinFeeds(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minFeeds = n
		}
	}
}

// WithClock injects the time source used to reject future-dated quotes.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics overrides the metrics recorder. A nil recorder disables metrics.
func WithMetrics(metrics *observability.OracleMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// New constructs a manager instance.
func New(cache *Cache, sources []Source, symbols []string, interval time.Duration, opts ...Option) (*Manager, error) {
	if cache == nil {
		return nil, fmt.Errorf("oracle: cache required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: at least one source required")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	mgr := &Manager{
		logger:   slog.Default(),
		cache:    cache,
		sources:  append([]Source{}, sources...),
		interval: interval,
		minFeeds: 1,
		metrics:  observability.Oracle(),
		now:      time.Now,
	}
	for _, symbol := range symbols {
		if key := normalize(symbol); key != "" {
			mgr.symbols = append(mgr.symbols, key)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Cache exposes the backing cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Run blocks, periodically refreshing every symbol until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started", slog.Int("sources", len(m.sources)), slog.Int("symbols", len(m.symbols)))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick incomplete", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick refreshes every configured symbol. Failures for one symbol do not stop
// the others; they are joined into the returned error.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	var errs []error
	for _, symbol := range m.symbols {
		if _, err := m.Refresh(ctx, symbol); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh queries all sources for symbol and caches the median.
func (m *Manager) Refresh(ctx context.Context, symbol string) (Quote, error) {
	key := normalize(symbol)
	if key == "" {
		return Quote{}, fmt.Errorf("%w: symbol required", protocol.ErrPriceUnavailable)
	}
	now := m.now()
	quotes := make([]Quote, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		q, err := src.Fetch(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return Quote{}, ctx.Err()
			}
			m.metrics.RecordError(key)
			m.logger.Warn("oracle source failed", slog.String("source", src.Name()), slog.String("asset", key), slog.Any("error", err))
			continue
		}
		if q.Price.Sign() <= 0 {
			m.logger.Warn("oracle source returned invalid price", slog.String("source", src.Name()), slog.String("asset", key))
			continue
		}
		if q.Timestamp.After(now.Add(5 * time.Second)) {
			m.logger.Warn("oracle source produced future timestamp", slog.String("source", src.Name()), slog.String("asset", key))
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) < m.minFeeds {
		return Quote{}, fmt.Errorf("%w: %d of %d feeds for %s", protocol.ErrPriceUnavailable, len(quotes), m.minFeeds, key)
	}
	agg := aggregate(key, quotes)
	m.cache.Put(agg)
	if m.recorder != nil {
		snap := Snapshot{Symbol: key, Median: agg.Price, Feeders: feeders(quotes), Observed: agg.Timestamp}
		if err := m.recorder.RecordPrice(ctx, snap); err != nil {
			m.logger.Warn("oracle snapshot not recorded", slog.String("asset", key), slog.Any("error", err))
		}
	}
	return agg, nil
}

// Price returns a fresh cached price, refreshing on a miss or stale entry.
func (m *Manager) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, err := m.cache.Price(symbol); err == nil {
		return price, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if price, err := m.cache.Price(symbol); err == nil {
		return price, nil
	}
	if _, err := m.Refresh(ctx, symbol); err != nil {
		return decimal.Zero, err
	}
	return m.cache.Price(symbol)
}

func aggregate(symbol string, quotes []Quote) Quote {
	oldest := quotes[0].Timestamp
	for _, q := range quotes[1:] {
		if q.Timestamp.Before(oldest) {
			oldest = q.Timestamp
		}
	}
	source := "median"
	if len(quotes) == 1 {
		source = quotes[0].Source
	}
	return Quote{Symbol: symbol, Price: computeMedian(quotes), Source: source, Timestamp: oldest}
}

func computeMedian(quotes []Quote) decimal.Decimal {
	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2))
}

func feeders(quotes []Quote) []string {
	out := make([]string, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, q.Source)
	}
	sort.Strings(out)
	return out
}
