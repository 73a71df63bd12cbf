package hub

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"defihub/contract"
	"defihub/protocol"
)

// Balance is one asset entry of a position.
type Balance struct {
	Asset  string          `json:"asset"`
	Amount string          `json:"amount"`
	Chain  string          `json:"chainAmount"`
	Value  decimal.Decimal `json:"value"`
}

// PositionReport is a user position valued with oracle prices.
type PositionReport struct {
	Account            string          `json:"account"`
	Supplied           []Balance       `json:"supplied"`
	Borrowed           []Balance       `json:"borrowed"`
	Staked             []Balance       `json:"staked"`
	Collateral         decimal.Decimal `json:"collateralValue"`
	WeightedCollateral decimal.Decimal `json:"weightedCollateral"`
	Debt               decimal.Decimal `json:"debtValue"`
	BorrowCapacity     decimal.Decimal `json:"borrowCapacity"`
	Health             protocol.Health `json:"healthFactor"`
	Liquidatable       bool            `json:"liquidatable"`
}

// HealthInput is a hypothetical position used for local health evaluation.
// Amounts are human decimals keyed by asset symbol.
type HealthInput struct {
	Supplied map[string]string `json:"supplied"`
	Borrowed map[string]string `json:"borrowed"`
}

// HealthFactor evaluates a hypothetical position with oracle prices and the
// configured liquidation threshold. No ledger access is needed.
func (h *Hub) HealthFactor(ctx context.Context, in HealthInput) (protocol.Health, protocol.Valuation, error) {
	supplied, err := h.holdings(ctx, in.Supplied, true)
	if err != nil {
		return protocol.Health{}, protocol.Valuation{}, err
	}
	borrowed, err := h.holdings(ctx, in.Borrowed, false)
	if err != nil {
		return protocol.Health{}, protocol.Valuation{}, err
	}
	val, err := protocol.Value(supplied, borrowed)
	if err != nil {
		return protocol.Health{}, protocol.Valuation{}, err
	}
	health, err := protocol.HealthFactor(val.Collateral, val.Debt, h.cfg.LiquidationThresholdBps)
	if err != nil {
		return protocol.Health{}, protocol.Valuation{}, invalid("health", err)
	}
	return health, val, nil
}

// ContractHealth reads the health factor the contract computes for src. A
// non-nil preview includes a prospective borrow.
func (h *Hub) ContractHealth(ctx context.Context, src contract.Source, preview *contract.Borrow) (protocol.Health, error) {
	if h.runner == nil {
		return protocol.Health{}, fmt.Errorf("hub: ledger access not configured")
	}
	spec, err := h.builder.HealthView(src, preview)
	if err != nil {
		return protocol.Health{}, err
	}
	val, err := h.runner.View(ctx, spec)
	if err != nil {
		return protocol.Health{}, err
	}
	return contract.DecodeHealth(val)
}

// Position reads and values the on-chain position of src.
func (h *Hub) Position(ctx context.Context, src contract.Source) (PositionReport, error) {
	if h.runner == nil {
		return PositionReport{}, fmt.Errorf("hub: ledger access not configured")
	}
	spec, err := h.builder.PositionView(src)
	if err != nil {
		return PositionReport{}, err
	}
	raw, err := h.runner.View(ctx, spec)
	if err != nil {
		return PositionReport{}, err
	}
	pos, err := contract.DecodePosition(raw, h.registry, src.NetworkPassphrase)
	if err != nil {
		return PositionReport{}, err
	}
	return h.report(ctx, src.Address, pos)
}

func (h *Hub) report(ctx context.Context, account string, pos contract.Position) (PositionReport, error) {
	out := PositionReport{Account: account}
	var supplied, borrowed []protocol.Holding
	for _, symbol := range sortedKeys(pos.Supplied) {
		holding, bal, err := h.valued(ctx, symbol, pos.Supplied[symbol])
		if err != nil {
			return PositionReport{}, err
		}
		supplied = append(supplied, holding)
		out.Supplied = append(out.Supplied, bal)
	}
	for _, symbol := range sortedKeys(pos.Borrowed) {
		holding, bal, err := h.valued(ctx, symbol, pos.Borrowed[symbol])
		if err != nil {
			return PositionReport{}, err
		}
		borrowed = append(borrowed, holding)
		out.Borrowed = append(out.Borrowed, bal)
	}
	for _, key := range sortedKeys(pos.Staked) {
		amount := pos.Staked[key]
		out.Staked = append(out.Staked, Balance{
			Asset:  key,
			Amount: protocol.ToHumanAmount(amount, h.cfg.StakingDecimals),
			Chain:  amount.String(),
		})
	}
	val, err := protocol.Value(supplied, borrowed)
	if err != nil {
		return PositionReport{}, err
	}
	health, err := protocol.HealthFactor(val.Collateral, val.Debt, h.cfg.LiquidationThresholdBps)
	if err != nil {
		return PositionReport{}, err
	}
	out.Collateral = val.Collateral
	out.WeightedCollateral = val.WeightedCollateral
	out.Debt = val.Debt
	out.BorrowCapacity = val.BorrowCapacity()
	out.Health = health
	out.Liquidatable = health.Liquidatable()
	return out, nil
}

func (h *Hub) valued(ctx context.Context, symbol string, amount *big.Int) (protocol.Holding, Balance, error) {
	desc, err := h.registry.Get(symbol)
	if err != nil {
		return protocol.Holding{}, Balance{}, fmt.Errorf("hub: position holds unlisted asset %s: %w", symbol, err)
	}
	price, err := h.prices.Price(ctx, desc.Symbol)
	if err != nil {
		return protocol.Holding{}, Balance{}, err
	}
	holding := protocol.Holding{
		Amount:              amount,
		Decimals:            desc.Decimals,
		Price:               price,
		CollateralFactorBps: desc.CollateralFactorBps,
	}
	return holding, Balance{
		Asset:  desc.Symbol,
		Amount: protocol.ToHumanAmount(amount, desc.Decimals),
		Chain:  amount.String(),
		Value:  protocol.ValueOf(amount, desc.Decimals, price),
	}, nil
}

func (h *Hub) holdings(ctx context.Context, amounts map[string]string, collateral bool) ([]protocol.Holding, error) {
	out := make([]protocol.Holding, 0, len(amounts))
	for _, symbol := range sortedKeys(amounts) {
		desc, err := h.registry.Get(symbol)
		if err != nil {
			return nil, invalid("health", err)
		}
		amount, err := protocol.ToChainAmount(amounts[symbol], desc.Decimals)
		if err != nil {
			return nil, invalid("health", err)
		}
		price, err := h.prices.Price(ctx, desc.Symbol)
		if err != nil {
			return nil, err
		}
		holding := protocol.Holding{Amount: amount, Decimals: desc.Decimals, Price: price}
		if collateral {
			holding.CollateralFactorBps = desc.CollateralFactorBps
		}
		out = append(out, holding)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
