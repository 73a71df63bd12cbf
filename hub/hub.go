// Package hub is the entry point for user intents. It is the only layer that
// accepts human decimal amounts; everything below works in chain units.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"defihub/assets"
	"defihub/contract"
	"defihub/failure"
	"defihub/lifecycle"
	"defihub/protocol"
	"defihub/xdr"
)

// DefaultStakingDecimals is the precision of the hub's LP staking token.
const DefaultStakingDecimals uint8 = 7

// DefaultSlippageBps applies when neither the request nor the configuration
// sets a slippage tolerance.
const DefaultSlippageBps uint32 = 100

var (
	ErrNoSession       = errors.New("hub: wallet session required")
	ErrUnhealthyBorrow = errors.New("hub: borrow would leave the position under the minimum health factor")
)

// Pricer supplies fresh quote-currency prices. *oracle.Manager implements it.
type Pricer interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Executor runs calls against the ledger. *lifecycle.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, session lifecycle.Signer, spec contract.CallSpec) (*lifecycle.Result, error)
	View(ctx context.Context, spec contract.CallSpec) (xdr.ScVal, error)
	Status(ctx context.Context, hash string) (lifecycle.TxStatus, error)
}

// Resolver records out-of-band outcomes. *journal.Journal implements it.
type Resolver interface {
	Resolve(ctx context.Context, status lifecycle.TxStatus) error
}

// Config carries protocol parameters used for local estimates. A nil
// SlippageBps selects DefaultSlippageBps; zero is a valid tolerance.
type Config struct {
	NetworkPassphrase       string
	FeeBps                  uint32
	SlippageBps             *uint32
	LiquidationThresholdBps uint32
	MinHealth               decimal.Decimal
	StakingDecimals         uint8
}

func (c Config) withDefaults() Config {
	if c.FeeBps == 0 {
		c.FeeBps = protocol.DefaultFeeBps
	}
	if c.SlippageBps == nil {
		def := DefaultSlippageBps
		c.SlippageBps = &def
	}
	if c.LiquidationThresholdBps == 0 {
		c.LiquidationThresholdBps = protocol.DefaultLiquidationThresholdBps
	}
	if c.MinHealth.Sign() <= 0 {
		c.MinHealth = protocol.MinimumHealthyRatio
	}
	if c.StakingDecimals == 0 {
		c.StakingDecimals = DefaultStakingDecimals
	}
	return c
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithResolver stores Status observations of terminal outcomes.
func WithResolver(r Resolver) Option {
	return func(h *Hub) {
		h.resolver = r
	}
}

// Hub composes the registry, math, builder, oracle and lifecycle runner.
type Hub struct {
	builder  *contract.Builder
	registry *assets.Registry
	prices   Pricer
	runner   Executor
	resolver Resolver
	cfg      Config
	logger   *slog.Logger
}

// New wires a hub. runner may be nil for offline use (quotes and previews).
func New(builder *contract.Builder, prices Pricer, runner Executor, cfg Config, opts ...Option) (*Hub, error) {
	if builder == nil {
		return nil, fmt.Errorf("hub: builder required")
	}
	if prices == nil {
		return nil, fmt.Errorf("hub: price source required")
	}
	h := &Hub{
		builder:  builder,
		registry: builder.Registry(),
		prices:   prices,
		runner:   runner,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Registry exposes the asset registry.
func (h *Hub) Registry() *assets.Registry {
	return h.registry
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// SwapQuote is a priced swap in both human and chain units.
type SwapQuote struct {
	From              string          `json:"from"`
	To                string          `json:"to"`
	AmountIn          string          `json:"amountIn"`
	EstimatedOut      string          `json:"estimatedOut"`
	MinAmountOut      string          `json:"minAmountOut"`
	AmountInChain     string          `json:"amountInChain"`
	EstimatedOutChain string          `json:"estimatedOutChain"`
	MinAmountOutChain string          `json:"minAmountOutChain"`
	PriceIn           decimal.Decimal `json:"priceIn"`
	PriceOut          decimal.Decimal `json:"priceOut"`
	FeeBps            uint32          `json:"feeBps"`
	SlippageBps       uint32          `json:"slippageBps"`
	quote             protocol.Quote
}

// QuoteRequest asks for a swap estimate. A nil SlippageBps selects the
// configured default.
type QuoteRequest struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      string  `json:"amount"`
	SlippageBps *uint32 `json:"slippageBps,omitempty"`
}

// Quote estimates a swap from oracle prices and the hub fee.
func (h *Hub) Quote(ctx context.Context, req QuoteRequest) (SwapQuote, error) {
	in, err := h.registry.Get(req.From)
	if err != nil {
		return SwapQuote{}, invalid("quote", err)
	}
	out, err := h.registry.Get(req.To)
	if err != nil {
		return SwapQuote{}, invalid("quote", err)
	}
	if in.Symbol == out.Symbol {
		return SwapQuote{}, invalid("quote", contract.ErrSameAsset)
	}
	amount, err := protocol.ParseHuman(req.Amount)
	if err != nil {
		return SwapQuote{}, invalid("quote", err)
	}
	if amount.Sign() == 0 {
		return SwapQuote{}, invalid("quote", fmt.Errorf("%w: amount must be greater than zero", protocol.ErrInvalidAmount))
	}
	slippage := *h.cfg.SlippageBps
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}
	priceIn, err := h.prices.Price(ctx, in.Symbol)
	if err != nil {
		return SwapQuote{}, err
	}
	priceOut, err := h.prices.Price(ctx, out.Symbol)
	if err != nil {
		return SwapQuote{}, err
	}
	q, err := protocol.QuoteSwap(amount, in.Decimals, out.Decimals, priceIn, priceOut, h.cfg.FeeBps, slippage)
	if err != nil {
		return SwapQuote{}, invalid("quote", err)
	}
	if q.AmountIn.Sign() == 0 {
		return SwapQuote{}, invalid("quote", fmt.Errorf("%w: %s is below %s precision", protocol.ErrInvalidAmount, req.Amount, in.Symbol))
	}
	return SwapQuote{
		From:              in.Symbol,
		To:                out.Symbol,
		AmountIn:          protocol.ToHumanAmount(q.AmountIn, in.Decimals),
		EstimatedOut:      protocol.ToHumanAmount(q.EstimatedOut, out.Decimals),
		MinAmountOut:      protocol.ToHumanAmount(q.MinAmountOut, out.Decimals),
		AmountInChain:     q.AmountIn.String(),
		EstimatedOutChain: q.EstimatedOut.String(),
		MinAmountOutChain: q.MinAmountOut.String(),
		PriceIn:           priceIn,
		PriceOut:          priceOut,
		FeeBps:            q.FeeBps,
		SlippageBps:       q.SlippageBps,
		quote:             q,
	}, nil
}

// PlanSwap quotes req and builds the matching call for src without executing it.
func (h *Hub) PlanSwap(ctx context.Context, req QuoteRequest, src contract.Source) (SwapQuote, contract.CallSpec, error) {
	q, err := h.Quote(ctx, req)
	if err != nil {
		return SwapQuote{}, contract.CallSpec{}, err
	}
	spec, err := h.builder.Build(contract.Swap{
		TokenIn:      q.From,
		TokenOut:     q.To,
		AmountIn:     q.quote.AmountIn,
		MinAmountOut: q.quote.MinAmountOut,
	}, src)
	if err != nil {
		return SwapQuote{}, contract.CallSpec{}, err
	}
	return q, spec, nil
}

// Swap quotes and executes a swap with the quoted minimum output.
func (h *Hub) Swap(ctx context.Context, session lifecycle.Signer, req QuoteRequest) (*lifecycle.Result, error) {
	src, err := h.source(session)
	if err != nil {
		return nil, err
	}
	q, spec, err := h.PlanSwap(ctx, req, src)
	if err != nil {
		return nil, err
	}
	h.logger.Info("executing swap",
		slog.String("from", q.From),
		slog.String("to", q.To),
		slog.String("amountIn", q.AmountIn),
		slog.String("minAmountOut", q.MinAmountOut))
	return h.execute(ctx, session, spec)
}

// AmountRequest names an asset and a human amount.
type AmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	// Force skips the minimum health guard on borrows.
	Force bool `json:"force,omitempty"`
}

// Build turns a human-denominated intent into a CallSpec without network access.
func (h *Hub) Build(kind contract.Kind, req AmountRequest, src contract.Source) (contract.CallSpec, error) {
	op, err := h.operation(kind, req)
	if err != nil {
		return contract.CallSpec{}, err
	}
	return h.builder.Build(op, src)
}

// Supply deposits into the lending pool.
func (h *Hub) Supply(ctx context.Context, session lifecycle.Signer, req AmountRequest) (*lifecycle.Result, error) {
	return h.run(ctx, session, contract.KindSupply, req)
}

// Borrow draws from the lending pool. Unless req.Force is set, a borrow that
// would drop the contract-side health factor under the configured minimum is
// refused before anything is signed.
func (h *Hub) Borrow(ctx context.Context, session lifecycle.Signer, req AmountRequest) (*lifecycle.Result, error) {
	src, err := h.source(session)
	if err != nil {
		return nil, err
	}
	if !req.Force {
		op, err := h.operation(contract.KindBorrow, req)
		if err != nil {
			return nil, err
		}
		borrow := op.(contract.Borrow)
		health, err := h.ContractHealth(ctx, src, &borrow)
		if err != nil {
			return nil, err
		}
		if health.Below(h.cfg.MinHealth) {
			return nil, failure.New(failure.KindValidation, "borrow",
				fmt.Errorf("%w: projected %s, minimum %s", ErrUnhealthyBorrow, health, h.cfg.MinHealth.StringFixed(2)))
		}
	}
	return h.run(ctx, session, contract.KindBorrow, req)
}

// Stake locks LP tokens.
func (h *Hub) Stake(ctx context.Context, session lifecycle.Signer, amount string) (*lifecycle.Result, error) {
	return h.run(ctx, session, contract.KindStake, AmountRequest{Amount: amount})
}

// Unstake releases LP tokens and claims rewards.
func (h *Hub) Unstake(ctx context.Context, session lifecycle.Signer, amount string) (*lifecycle.Result, error) {
	return h.run(ctx, session, contract.KindUnstake, AmountRequest{Amount: amount})
}

// Status queries a previously submitted transaction and records terminal
// outcomes with the resolver.
func (h *Hub) Status(ctx context.Context, hash string) (lifecycle.TxStatus, error) {
	if h.runner == nil {
		return lifecycle.TxStatus{}, fmt.Errorf("hub: ledger access not configured")
	}
	status, err := h.runner.Status(ctx, hash)
	if err != nil {
		return lifecycle.TxStatus{}, err
	}
	if h.resolver != nil && status.State.Terminal() {
		if err := h.resolver.Resolve(ctx, status); err != nil {
			h.logger.Debug("status not resolved in journal", slog.String("hash", hash), slog.Any("error", err))
		}
	}
	return status, nil
}

func (h *Hub) run(ctx context.Context, session lifecycle.Signer, kind contract.Kind, req AmountRequest) (*lifecycle.Result, error) {
	src, err := h.source(session)
	if err != nil {
		return nil, err
	}
	spec, err := h.Build(kind, req, src)
	if err != nil {
		return nil, err
	}
	return h.execute(ctx, session, spec)
}

func (h *Hub) execute(ctx context.Context, session lifecycle.Signer, spec contract.CallSpec) (*lifecycle.Result, error) {
	if h.runner == nil {
		return nil, fmt.Errorf("hub: ledger access not configured")
	}
	return h.runner.Execute(ctx, session, spec)
}

func (h *Hub) operation(kind contract.Kind, req AmountRequest) (contract.Operation, error) {
	switch kind {
	case contract.KindSupply, contract.KindBorrow:
		desc, err := h.registry.Get(req.Asset)
		if err != nil {
			return nil, invalid(string(kind), err)
		}
		amount, err := protocol.ToChainAmount(req.Amount, desc.Decimals)
		if err != nil {
			return nil, invalid(string(kind), err)
		}
		if kind == contract.KindSupply {
			return contract.Supply{Asset: desc.Symbol, Amount: amount}, nil
		}
		return contract.Borrow{Asset: desc.Symbol, Amount: amount}, nil
	case contract.KindStake, contract.KindUnstake:
		amount, err := protocol.ToChainAmount(req.Amount, h.cfg.StakingDecimals)
		if err != nil {
			return nil, invalid(string(kind), err)
		}
		if kind == contract.KindStake {
			return contract.Stake{Amount: amount}, nil
		}
		return contract.Unstake{Amount: amount}, nil
	default:
		return nil, invalid("build", fmt.Errorf("%w: %q", contract.ErrUnknownOp, kind))
	}
}

func (h *Hub) source(session lifecycle.Signer) (contract.Source, error) {
	if session == nil {
		return contract.Source{}, failure.New(failure.KindExtension, "session", ErrNoSession)
	}
	snap := session.Snapshot()
	if !snap.CanSign() {
		return contract.Source{}, failure.New(failure.KindExtension, "session", ErrNoSession)
	}
	passphrase := snap.NetworkPassphrase
	if want := strings.TrimSpace(h.cfg.NetworkPassphrase); want != "" && want != passphrase {
		return contract.Source{}, failure.New(failure.KindNetworkMismatch, "session",
			fmt.Errorf("hub: wallet is on %q, hub is configured for %q", passphrase, want))
	}
	return contract.Source{Address: snap.Address, NetworkPassphrase: passphrase}, nil
}

func invalid(op string, err error) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.New(failure.KindValidation, op, err)
}
