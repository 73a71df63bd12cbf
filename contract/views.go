package contract

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"defihub/assets"
	"defihub/protocol"
	"defihub/xdr"
)

// Hub contract error codes.
const (
	ErrCodeOracleFailure          uint32 = 1
	ErrCodeInsufficientLiquidity  uint32 = 2
	ErrCodeInvalidAsset           uint32 = 3
	ErrCodePriceStale             uint32 = 4
	ErrCodePoolNotFound           uint32 = 5
	ErrCodeInsufficientCollateral uint32 = 6
	ErrCodeAssetNotSupported      uint32 = 7
	ErrCodeSwapFailed             uint32 = 8
)

var hubErrorNames = map[uint32]string{
	ErrCodeOracleFailure:          "oracle failure",
	ErrCodeInsufficientLiquidity:  "insufficient liquidity",
	ErrCodeInvalidAsset:           "invalid asset",
	ErrCodePriceStale:             "price stale",
	ErrCodePoolNotFound:           "pool not found",
	ErrCodeInsufficientCollateral: "insufficient collateral",
	ErrCodeAssetNotSupported:      "asset not supported",
	ErrCodeSwapFailed:             "swap failed",
}

// ErrorReason names a hub contract error code.
func ErrorReason(code uint32) string {
	if name, ok := hubErrorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("contract error %d", code)
}

// PriceView builds a read-only call for the oracle price of symbol.
func (b *Builder) PriceView(symbol string, src Source) (CallSpec, error) {
	return b.view(src, func(spec CallSpec) (CallSpec, error) {
		asset, err := b.resolve(symbol, spec.passphrase)
		if err != nil {
			return CallSpec{}, err
		}
		spec.method = MethodGetAssetPrice
		spec.args = []xdr.ScVal{xdr.Address(asset)}
		return spec, nil
	})
}

// PositionView builds a read-only call for the caller's hub position.
func (b *Builder) PositionView(src Source) (CallSpec, error) {
	return b.view(src, func(spec CallSpec) (CallSpec, error) {
		spec.method = MethodGetUserPosition
		spec.args = []xdr.ScVal{xdr.Address(spec.source)}
		return spec, nil
	})
}

// HealthView builds a read-only call for the contract-side health factor. A
// non-nil preview includes a prospective borrow in the computation.
func (b *Builder) HealthView(src Source, preview *Borrow) (CallSpec, error) {
	return b.view(src, func(spec CallSpec) (CallSpec, error) {
		additional := xdr.Void()
		if preview != nil {
			asset, err := b.resolve(preview.Asset, spec.passphrase)
			if err != nil {
				return CallSpec{}, err
			}
			amount, err := positiveU128("borrow preview", preview.Amount)
			if err != nil {
				return CallSpec{}, err
			}
			additional = xdr.Vec(xdr.Address(asset), amount)
		}
		spec.method = MethodCalculateHealthFactor
		spec.args = []xdr.ScVal{xdr.Address(spec.source), additional}
		return spec, nil
	})
}

// StakingPoolView builds a read-only call for the staking pool of symbol.
func (b *Builder) StakingPoolView(symbol string, src Source) (CallSpec, error) {
	return b.view(src, func(spec CallSpec) (CallSpec, error) {
		asset, err := b.resolve(symbol, spec.passphrase)
		if err != nil {
			return CallSpec{}, err
		}
		spec.method = MethodGetStakingPool
		spec.args = []xdr.ScVal{xdr.Address(asset)}
		return spec, nil
	})
}

func (b *Builder) view(src Source, fill func(CallSpec) (CallSpec, error)) (CallSpec, error) {
	if b == nil {
		return CallSpec{}, invalid(ErrBuilderMissing)
	}
	user, passphrase, err := resolveSource(src)
	if err != nil {
		return CallSpec{}, invalid(err)
	}
	spec, err := fill(CallSpec{kind: KindView, contract: b.contract, source: user, passphrase: passphrase})
	if err != nil {
		return CallSpec{}, invalid(err)
	}
	method, ok := LookupMethod(spec.method)
	if !ok || !method.ReadOnly {
		return CallSpec{}, invalid(fmt.Errorf("%w: %s is not a view", ErrABIMismatch, spec.method))
	}
	if err := method.Check(spec.args); err != nil {
		return CallSpec{}, invalid(err)
	}
	spec.readOnly = true
	return spec, nil
}

// DecodePrice converts a get_asset_price result, which is scaled to the
// asset's own decimals, into a quote-currency price.
func DecodePrice(v xdr.ScVal, decimals uint8) (decimal.Decimal, error) {
	raw, ok := v.AsBigInt()
	if !ok {
		return decimal.Zero, fmt.Errorf("contract: price result is %s", v.Type())
	}
	if raw.Sign() <= 0 {
		return decimal.Zero, protocol.ErrPriceUnavailable
	}
	return protocol.ToDecimal(raw, decimals), nil
}

// DecodeHealth converts a calculate_health_factor result.
func DecodeHealth(v xdr.ScVal) (protocol.Health, error) {
	raw, ok := v.AsBigInt()
	if !ok {
		return protocol.Health{}, fmt.Errorf("contract: health factor result is %s", v.Type())
	}
	return protocol.HealthFromContract(raw)
}

// Position is a user's hub position keyed by asset symbol. Assets the registry
// does not know are keyed by contract address.
type Position struct {
	Supplied         map[string]*big.Int
	Borrowed         map[string]*big.Int
	Staked           map[string]*big.Int
	RewardsEarned    *big.Int
	LastRewardUpdate time.Time
}

// DecodePosition converts a get_user_position result.
func DecodePosition(v xdr.ScVal, registry *assets.Registry, passphrase string) (Position, error) {
	if v.Type() != xdr.TypeMap {
		return Position{}, fmt.Errorf("contract: position result is %s", v.Type())
	}
	var (
		pos Position
		err error
	)
	if pos.Supplied, err = decodeBalances(v, "supplied_assets", registry, passphrase); err != nil {
		return Position{}, err
	}
	if pos.Borrowed, err = decodeBalances(v, "borrowed_assets", registry, passphrase); err != nil {
		return Position{}, err
	}
	if pos.Staked, err = decodeBalances(v, "staked_lp_tokens", registry, passphrase); err != nil {
		return Position{}, err
	}
	pos.RewardsEarned = new(big.Int)
	if rewards, ok := v.Lookup("rewards_earned"); ok {
		if n, ok := rewards.AsBigInt(); ok {
			pos.RewardsEarned = n
		}
	}
	if ts, ok := v.Lookup("last_reward_update"); ok {
		if secs, ok := ts.AsUint64(); ok && secs > 0 {
			pos.LastRewardUpdate = time.Unix(int64(secs), 0).UTC()
		}
	}
	return pos, nil
}

func decodeBalances(v xdr.ScVal, field string, registry *assets.Registry, passphrase string) (map[string]*big.Int, error) {
	out := map[string]*big.Int{}
	raw, ok := v.Lookup(field)
	if !ok {
		return out, nil
	}
	entries, ok := raw.AsMap()
	if !ok {
		return nil, fmt.Errorf("contract: %s is %s", field, raw.Type())
	}
	for _, entry := range entries {
		addr, ok := entry.Key.AsAddress()
		if !ok {
			return nil, fmt.Errorf("contract: %s key is %s", field, entry.Key.Type())
		}
		amount, ok := entry.Val.AsBigInt()
		if !ok {
			return nil, fmt.Errorf("contract: %s value is %s", field, entry.Val.Type())
		}
		key := addr.String()
		if desc, err := registry.ByAddress(addr, passphrase); err == nil {
			key = desc.Symbol
		}
		out[key] = amount
	}
	return out, nil
}

// StakingPool is the on-chain state of a staking pool.
type StakingPool struct {
	TotalStaked             *big.Int
	RewardRate              *big.Int
	LastUpdate              time.Time
	RewardPerTokenStored    *big.Int
	TotalRewardsDistributed *big.Int
}

// DecodeStakingPool converts a get_staking_pool result.
func DecodeStakingPool(v xdr.ScVal) (StakingPool, error) {
	if v.Type() != xdr.TypeMap {
		return StakingPool{}, fmt.Errorf("contract: staking pool result is %s", v.Type())
	}
	field := func(name string) *big.Int {
		if raw, ok := v.Lookup(name); ok {
			if n, ok := raw.AsBigInt(); ok {
				return n
			}
		}
		return new(big.Int)
	}
	pool := StakingPool{
		TotalStaked:             field("total_staked"),
		RewardRate:              field("reward_rate"),
		RewardPerTokenStored:    field("reward_per_token_stored"),
		TotalRewardsDistributed: field("total_rewards_distributed"),
	}
	if secs := field("last_update_time"); secs.Sign() > 0 {
		pool.LastUpdate = time.Unix(secs.Int64(), 0).UTC()
	}
	return pool, nil
}
