package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"defihub/assets"
	"defihub/contract"
	"defihub/crypto"
	"defihub/protocol"
	"defihub/xdr"
)

const (
	hubContractID = "CBV3Q4PBHOAIHTJUR433DUWHWFI3PBDS4AR52YQM32KMX62APVFK6PMT"
	testAccount   = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

type fixedSource struct {
	name  string
	price string
	at    time.Time
	err   error
	calls int
}

func (s *fixedSource) Name() string { return s.name }

func (s *fixedSource) Fetch(_ context.Context, symbol string) (Quote, error) {
	s.calls++
	if s.err != nil {
		return Quote{}, s.err
	}
	return Quote{Symbol: symbol, Price: decimal.RequireFromString(s.price), Source: s.name, Timestamp: s.at}, nil
}

type memRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *memRecorder) RecordPrice(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

type fakeViewer struct {
	spec contract.CallSpec
	out  xdr.ScVal
	err  error
}

func (v *fakeViewer) View(_ context.Context, spec contract.CallSpec) (xdr.ScVal, error) {
	v.spec = spec
	return v.out, v.err
}

func clock() time.Time { return fixedNow }

func TestCacheRejectsMissingAndStale(t *testing.T) {
	now := fixedNow
	cache := NewCache(time.Minute, WithCacheClock(func() time.Time { return now }), WithCacheMetrics(nil))

	_, err := cache.Price("xlm")
	require.ErrorIs(t, err, protocol.ErrPriceUnavailable)

	cache.Put(Quote{Symbol: "xlm", Price: decimal.RequireFromString("0.12"), Source: "static", Timestamp: fixedNow})
	price, err := cache.Price("XLM")
	require.NoError(t, err)
	require.Equal(t, "0.12", price.String())

	now = fixedNow.Add(2 * time.Minute)
	_, err = cache.Price("XLM")
	require.ErrorIs(t, err, protocol.ErrPriceUnavailable)
}

func TestCacheKeepsNewestQuote(t *testing.T) {
	cache := NewCache(0, WithCacheClock(clock), WithCacheMetrics(nil))
	require.Equal(t, DefaultMaxAge, cache.MaxAge())

	cache.Put(Quote{Symbol: "BTC", Price: decimal.NewFromInt(60000), Timestamp: fixedNow})
	cache.Put(Quote{Symbol: "BTC", Price: decimal.NewFromInt(1), Timestamp: fixedNow.Add(-time.Second)})
	cache.Put(Quote{Symbol: "BTC", Price: decimal.Zero, Timestamp: fixedNow.Add(time.Second)})

	q, ok := cache.Get("btc")
	require.True(t, ok)
	require.Equal(t, "60000", q.Price.String())
}

func TestManagerMedianAcrossSources(t *testing.T) {
	cache := NewCache(time.Hour, WithCacheClock(clock), WithCacheMetrics(nil))
	rec := &memRecorder{}
	sources := []Source{
		&fixedSource{name: "a", price: "0.10", at: fixedNow},
		&fixedSource{name: "b", price: "0.14", at: fixedNow},
		&fixedSource{name: "c", price: "0.12", at: fixedNow.Add(-time.Second)},
		&fixedSource{name: "down", err: errors.New("unreachable")},
	}
	mgr, err := New(cache, sources, []string{"xlm"}, time.Second,
		WithClock(clock), WithRecorder(rec), WithMetrics(nil), WithMinFeeds(2))
	require.NoError(t, err)

	require.NoError(t, mgr.Tick(context.Background()))
	price, err := cache.Price("XLM")
	require.NoError(t, err)
	require.Equal(t, "0.12", price.String())

	require.Len(t, rec.snaps, 1)
	require.Equal(t, []string{"a", "b", "c"}, rec.snaps[0].Feeders)
	require.Equal(t, fixedNow.Add(-time.Second), rec.snaps[0].Observed)
}

func TestManagerEvenMedianAndFutureQuotes(t *testing.T) {
	cache := NewCache(time.Hour, WithCacheClock(clock), WithCacheMetrics(nil))
	sources := []Source{
		&fixedSource{name: "a", price: "10", at: fixedNow},
		&fixedSource{name: "b", price: "20", at: fixedNow},
		&fixedSource{name: "future", price: "1000", at: fixedNow.Add(time.Hour)},
	}
	mgr, err := New(cache, sources, nil, time.Second, WithClock(clock), WithMetrics(nil))
	require.NoError(t, err)

	q, err := mgr.Refresh(context.Background(), "eth")
	require.NoError(t, err)
	require.Equal(t, "15", q.Price.String())
	require.Equal(t, "median", q.Source)
}

func TestManagerInsufficientFeeds(t *testing.T) {
	cache := NewCache(time.Hour, WithCacheClock(clock), WithCacheMetrics(nil))
	mgr, err := New(cache, []Source{&fixedSource{name: "down", err: errors.New("boom")}}, []string{"XLM", "BTC"}, time.Second,
		WithClock(clock), WithMetrics(nil))
	require.NoError(t, err)

	err = mgr.Tick(context.Background())
	require.ErrorIs(t, err, protocol.ErrPriceUnavailable)
	require.Contains(t, err.Error(), "XLM")
	require.Contains(t, err.Error(), "BTC")
}

func TestManagerPriceRefreshesOnMiss(t *testing.T) {
	cache := NewCache(time.Hour, WithCacheClock(clock), WithCacheMetrics(nil))
	src := &fixedSource{name: "a", price: "1.0001", at: fixedNow}
	mgr, err := New(cache, []Source{src}, nil, time.Second, WithClock(clock), WithMetrics(nil))
	require.NoError(t, err)

	price, err := mgr.Price(context.Background(), "USDC")
	require.NoError(t, err)
	require.Equal(t, "1.0001", price.String())
	_, err = mgr.Price(context.Background(), "USDC")
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	cache := NewCache(time.Hour, WithCacheClock(clock), WithCacheMetrics(nil))
	mgr, err := New(cache, []Source{&fixedSource{name: "a", price: "2", at: fixedNow}}, []string{"BLND"}, 10*time.Millisecond,
		WithClock(clock), WithMetrics(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = mgr.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := cache.Get("BLND")
	require.True(t, ok)
}

func TestStaticSource(t *testing.T) {
	src, err := NewStaticSource("", map[string]string{"xlm": "0.12"})
	require.NoError(t, err)
	require.Equal(t, "static", src.Name())

	q, err := src.Fetch(context.Background(), "XLM")
	require.NoError(t, err)
	require.Equal(t, "XLM", q.Symbol)

	_, err = src.Fetch(context.Background(), "BTC")
	require.ErrorIs(t, err, protocol.ErrPriceUnavailable)

	_, err = NewStaticSource("bad", map[string]string{"XLM": "0"})
	require.Error(t, err)
}

func TestContractSourceDecodesScaledPrice(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)
	builder, err := contract.NewBuilder(reg, hubContractID)
	require.NoError(t, err)
	raw, err := xdr.U128(big.NewInt(1_200_000))
	require.NoError(t, err)
	viewer := &fakeViewer{out: raw}

	src, err := NewContractSource(builder, viewer, contract.Source{Address: testAccount, NetworkPassphrase: crypto.TestNetworkPassphrase})
	require.NoError(t, err)
	src.now = clock

	q, err := src.Fetch(context.Background(), "xlm")
	require.NoError(t, err)
	require.Equal(t, "XLM", q.Symbol)
	require.Equal(t, "0.12", q.Price.String())
	require.Equal(t, "hub-contract", q.Source)
	require.Equal(t, contract.MethodGetAssetPrice, viewer.spec.Method())
	require.True(t, viewer.spec.ReadOnly())

	_, err = src.Fetch(context.Background(), "DOGE")
	require.Error(t, err)
}
