package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"defihub/assets"
	"defihub/crypto"
	"defihub/failure"
	"defihub/xdr"
)

// DefaultDeadlineWindow bounds how long a swap stays executable after it is built.
const DefaultDeadlineWindow = 600 * time.Second

var (
	ErrInvalidAsset   = errors.New("contract: invalid asset")
	ErrInvalidAmount  = errors.New("contract: invalid amount")
	ErrSameAsset      = errors.New("contract: swap requires distinct assets")
	ErrInvalidSource  = errors.New("contract: invalid source")
	ErrABIMismatch    = errors.New("contract: arguments do not match method signature")
	ErrUnknownOp      = errors.New("contract: unsupported operation")
	ErrBuilderMissing = errors.New("contract: builder not configured")
)

// Builder turns operations into CallSpecs for one deployed hub contract.
// It performs no network access.
type Builder struct {
	registry       *assets.Registry
	contract       crypto.Address
	deadlineWindow time.Duration
	now            func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithDeadlineWindow overrides how far in the future swap deadlines are set.
func WithDeadlineWindow(window time.Duration) Option {
	return func(b *Builder) {
		if window > 0 {
			b.deadlineWindow = window
		}
	}
}

// WithClock injects the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder binds a builder to a registry and the hub contract address.
func NewBuilder(registry *assets.Registry, contractID string, opts ...Option) (*Builder, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("contract: asset registry required")
	}
	addr, err := crypto.DecodeContract(contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: hub contract id: %w", err)
	}
	b := &Builder{
		registry:       registry,
		contract:       addr,
		deadlineWindow: DefaultDeadlineWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// ContractID returns the hub contract the builder targets.
func (b *Builder) ContractID() crypto.Address {
	return b.contract
}

// Registry returns the asset registry the builder resolves symbols through.
func (b *Builder) Registry() *assets.Registry {
	return b.registry
}

// Build validates op and encodes it for the signer described by src.
func (b *Builder) Build(op Operation, src Source) (CallSpec, error) {
	if b == nil {
		return CallSpec{}, invalid(ErrBuilderMissing)
	}
	user, passphrase, err := resolveSource(src)
	if err != nil {
		return CallSpec{}, invalid(err)
	}
	spec, err := b.encode(op, user, passphrase)
	if err != nil {
		return CallSpec{}, invalid(err)
	}
	method, ok := LookupMethod(spec.method)
	if !ok {
		return CallSpec{}, invalid(fmt.Errorf("%w: %s", ErrABIMismatch, spec.method))
	}
	if err := method.Check(spec.args); err != nil {
		return CallSpec{}, invalid(err)
	}
	spec.readOnly = method.ReadOnly
	return spec, nil
}

func (b *Builder) encode(op Operation, user crypto.Address, passphrase string) (CallSpec, error) {
	base := CallSpec{contract: b.contract, source: user, passphrase: passphrase}
	switch o := op.(type) {
	case Swap:
		return b.encodeSwap(base, o)
	case *Swap:
		if o == nil {
			return CallSpec{}, ErrUnknownOp
		}
		return b.encodeSwap(base, *o)
	case Supply:
		return b.encodePool(base, KindSupply, MethodSupplyToPool, o.Asset, o.Amount)
	case *Supply:
		if o == nil {
			return CallSpec{}, ErrUnknownOp
		}
		return b.encodePool(base, KindSupply, MethodSupplyToPool, o.Asset, o.Amount)
	case Borrow:
		return b.encodePool(base, KindBorrow, MethodBorrowFromPool, o.Asset, o.Amount)
	case *Borrow:
		if o == nil {
			return CallSpec{}, ErrUnknownOp
		}
		return b.encodePool(base, KindBorrow, MethodBorrowFromPool, o.Asset, o.Amount)
	case Stake:
		return encodeStaking(base, KindStake, MethodStake, o.Amount)
	case *Stake:
		if o == nil {
			return CallSpec{}, ErrUnknownOp
		}
		return encodeStaking(base, KindStake, MethodStake, o.Amount)
	case Unstake:
		return encodeStaking(base, KindUnstake, MethodUnstakeAndClaim, o.Amount)
	case *Unstake:
		if o == nil {
			return CallSpec{}, ErrUnknownOp
		}
		return encodeStaking(base, KindUnstake, MethodUnstakeAndClaim, o.Amount)
	default:
		return CallSpec{}, fmt.Errorf("%w: %T", ErrUnknownOp, op)
	}
}

func (b *Builder) encodeSwap(spec CallSpec, op Swap) (CallSpec, error) {
	in, err := b.resolve(op.TokenIn, spec.passphrase)
	if err != nil {
		return CallSpec{}, err
	}
	out, err := b.resolve(op.TokenOut, spec.passphrase)
	if err != nil {
		return CallSpec{}, err
	}
	if in.Equal(out) {
		return CallSpec{}, fmt.Errorf("%w: %s -> %s", ErrSameAsset, op.TokenIn, op.TokenOut)
	}
	amountIn, err := positiveU128("amount in", op.AmountIn)
	if err != nil {
		return CallSpec{}, err
	}
	if op.MinAmountOut == nil || op.MinAmountOut.Sign() < 0 {
		return CallSpec{}, fmt.Errorf("%w: minimum output must be zero or greater", ErrInvalidAmount)
	}
	minOut, err := xdr.U128(op.MinAmountOut)
	if err != nil {
		return CallSpec{}, fmt.Errorf("%w: minimum output: %v", ErrInvalidAmount, err)
	}
	deadline := b.now().Add(b.deadlineWindow).Truncate(time.Second)
	spec.kind = KindSwap
	spec.method = MethodSwapTokens
	spec.deadline = deadline
	spec.args = []xdr.ScVal{
		xdr.Address(spec.source),
		xdr.Address(in),
		xdr.Address(out),
		amountIn,
		minOut,
		xdr.U64(uint64(deadline.Unix())),
	}
	return spec, nil
}

func (b *Builder) encodePool(spec CallSpec, kind Kind, method, symbol string, amount *big.Int) (CallSpec, error) {
	asset, err := b.resolve(symbol, spec.passphrase)
	if err != nil {
		return CallSpec{}, err
	}
	value, err := positiveU128("amount", amount)
	if err != nil {
		return CallSpec{}, err
	}
	spec.kind = kind
	spec.method = method
	spec.args = []xdr.ScVal{xdr.Address(spec.source), xdr.Address(asset), value}
	return spec, nil
}

func encodeStaking(spec CallSpec, kind Kind, method string, amount *big.Int) (CallSpec, error) {
	value, err := positiveU128("amount", amount)
	if err != nil {
		return CallSpec{}, err
	}
	spec.kind = kind
	spec.method = method
	spec.args = []xdr.ScVal{xdr.Address(spec.source), value}
	return spec, nil
}

func (b *Builder) resolve(symbol, passphrase string) (crypto.Address, error) {
	if strings.TrimSpace(symbol) == "" {
		return crypto.Address{}, fmt.Errorf("%w: symbol required", ErrInvalidAsset)
	}
	desc, err := b.registry.Get(symbol)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	addr, err := desc.ContractAddress(passphrase)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	return addr, nil
}

func positiveU128(label string, amount *big.Int) (xdr.ScVal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return xdr.ScVal{}, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, label)
	}
	v, err := xdr.U128(amount)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("%w: %s: %v", ErrInvalidAmount, label, err)
	}
	return v, nil
}

func resolveSource(src Source) (crypto.Address, string, error) {
	passphrase := strings.TrimSpace(src.NetworkPassphrase)
	if passphrase == "" {
		return crypto.Address{}, "", fmt.Errorf("%w: network passphrase required", ErrInvalidSource)
	}
	user, err := crypto.DecodeAccount(src.Address)
	if err != nil {
		return crypto.Address{}, "", fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	return user, passphrase, nil
}

func invalid(err error) error {
	return failure.New(failure.KindValidation, "build", err)
}
