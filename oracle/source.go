package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"defihub/contract"
	"defihub/protocol"
	"defihub/xdr"
)

// Source resolves a price quote for an asset symbol.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// Viewer simulates read-only contract calls. *lifecycle.Runner implements it.
type Viewer interface {
	View(ctx context.Context, spec contract.CallSpec) (xdr.ScVal, error)
}

// ContractSource reads prices from the hub contract's own oracle via
// simulation. Nothing is signed or submitted.
type ContractSource struct {
	builder *contract.Builder
	viewer  Viewer
	caller  contract.Source
	now     func() time.Time
}

// NewContractSource binds a source to the account used as simulation source.
func NewContractSource(builder *contract.Builder, viewer Viewer, caller contract.Source) (*ContractSource, error) {
	if builder == nil || viewer == nil {
		return nil, fmt.Errorf("oracle: builder and viewer required")
	}
	return &ContractSource{builder: builder, viewer: viewer, caller: caller, now: time.Now}, nil
}

func (s *ContractSource) Name() string { return "hub-contract" }

// Fetch implements Source.
func (s *ContractSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	desc, err := s.builder.Registry().Get(symbol)
	if err != nil {
		return Quote{}, err
	}
	spec, err := s.builder.PriceView(desc.Symbol, s.caller)
	if err != nil {
		return Quote{}, err
	}
	val, err := s.viewer.View(ctx, spec)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: read %s price: %w", desc.Symbol, err)
	}
	price, err := contract.DecodePrice(val, desc.Decimals)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Symbol: desc.Symbol, Price: price, Source: s.Name(), Timestamp: s.now().UTC()}, nil
}

// StaticSource serves fixed prices. It backs offline quoting and tests.
type StaticSource struct {
	name   string
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewStaticSource parses human price strings keyed by symbol.
func NewStaticSource(name string, prices map[string]string) (*StaticSource, error) {
	if strings.TrimSpace(name) == "" {
		name = "static"
	}
	out := &StaticSource{name: name, prices: map[string]decimal.Decimal{}, now: time.Now}
	for symbol, raw := range prices {
		price, err := protocol.ParseHuman(raw)
		if err != nil {
			return nil, fmt.Errorf("oracle: price for %s: %w", symbol, err)
		}
		if price.Sign() <= 0 {
			return nil, fmt.Errorf("oracle: price for %s must be positive", symbol)
		}
		out.prices[normalize(symbol)] = price
	}
	return out, nil
}

func (s *StaticSource) Name() string { return s.name }

// Fetch implements Source.
func (s *StaticSource) Fetch(_ context.Context, symbol string) (Quote, error) {
	key := normalize(symbol)
	price, ok := s.prices[key]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s has no static price", protocol.ErrPriceUnavailable, key)
	}
	return Quote{Symbol: key, Price: price, Source: s.name, Timestamp: s.now().UTC()}, nil
}
