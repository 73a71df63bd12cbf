package assets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"defihub/crypto"
)

// Native is the reserved address marking the network's native asset.
const Native = "native"

// MaxDecimals bounds the precision an asset may declare.
const MaxDecimals = 38

var assetCode = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

var (
	ErrUnknownAsset    = errors.New("assets: unknown asset")
	ErrInvalidAsset    = errors.New("assets: invalid asset descriptor")
	ErrDuplicateAsset  = errors.New("assets: duplicate asset")
	ErrEmptyRegistry   = errors.New("assets: registry has no assets")
	ErrMultipleNatives = errors.New("assets: more than one native asset")
)

// Descriptor is the static metadata of a tradable asset. The asset contract is
// named by exactly one of: Address "native", a contract strkey in Address, or
// a classic Issuer account whose Stellar Asset Contract for Symbol is derived
// per network.
type Descriptor struct {
	Symbol              string `yaml:"symbol" toml:"symbol" json:"symbol"`
	Address             string `yaml:"address,omitempty" toml:"address" json:"address,omitempty"`
	Issuer              string `yaml:"issuer,omitempty" toml:"issuer" json:"issuer,omitempty"`
	Decimals            uint8  `yaml:"decimals" toml:"decimals" json:"decimals"`
	CollateralFactorBps uint32 `yaml:"collateralFactorBps" toml:"collateral_factor_bps" json:"collateralFactorBps"`
	PriceFeedKey        string `yaml:"priceFeedKey" toml:"price_feed_key" json:"priceFeedKey"`
}

// IsNative reports whether the descriptor refers to the native asset.
func (d Descriptor) IsNative() bool {
	return strings.EqualFold(strings.TrimSpace(d.Address), Native)
}

// ContractAddress resolves the contract that represents the asset on the network
// identified by passphrase.
func (d Descriptor) ContractAddress(passphrase string) (crypto.Address, error) {
	if d.IsNative() {
		if strings.TrimSpace(passphrase) == "" {
			return crypto.Address{}, fmt.Errorf("%w: network passphrase required to resolve %s", ErrInvalidAsset, d.Symbol)
		}
		return crypto.NativeAssetContract(passphrase), nil
	}
	if d.Issuer != "" {
		if strings.TrimSpace(passphrase) == "" {
			return crypto.Address{}, fmt.Errorf("%w: network passphrase required to resolve %s", ErrInvalidAsset, d.Symbol)
		}
		addr, err := crypto.AssetContract(d.Symbol, d.Issuer, passphrase)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidAsset, d.Symbol, err)
		}
		return addr, nil
	}
	addr, err := crypto.DecodeAddress(d.Address)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidAsset, d.Symbol, err)
	}
	return addr, nil
}

func (d Descriptor) validate() error {
	if d.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidAsset)
	}
	if d.Decimals > MaxDecimals {
		return fmt.Errorf("%w: %s decimals %d exceed %d", ErrInvalidAsset, d.Symbol, d.Decimals, MaxDecimals)
	}
	if d.CollateralFactorBps > 10_000 {
		return fmt.Errorf("%w: %s collateral factor %d exceeds 10000 bps", ErrInvalidAsset, d.Symbol, d.CollateralFactorBps)
	}
	if d.Issuer != "" {
		if d.Address != "" {
			return fmt.Errorf("%w: %s sets both address and issuer", ErrInvalidAsset, d.Symbol)
		}
		if !assetCode.MatchString(d.Symbol) {
			return fmt.Errorf("%w: %s is not a classic asset code", ErrInvalidAsset, d.Symbol)
		}
		if _, err := crypto.DecodeAccount(d.Issuer); err != nil {
			return fmt.Errorf("%w: %s issuer: %v", ErrInvalidAsset, d.Symbol, err)
		}
		return nil
	}
	if d.IsNative() {
		return nil
	}
	if _, err := crypto.DecodeAddress(d.Address); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAsset, d.Symbol, err)
	}
	return nil
}

// Registry is an immutable symbol-indexed set of descriptors. It is safe for
// concurrent use.
type Registry struct {
	bySymbol map[string]Descriptor
	symbols  []string
}

// New validates the descriptors and freezes them into a registry.
func New(descriptors []Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmptyRegistry
	}
	reg := &Registry{bySymbol: make(map[string]Descriptor, len(descriptors))}
	natives := 0
	for _, desc := range descriptors {
		desc.Symbol = strings.ToUpper(strings.TrimSpace(desc.Symbol))
		desc.Address = strings.TrimSpace(desc.Address)
		desc.Issuer = strings.TrimSpace(desc.Issuer)
		desc.PriceFeedKey = strings.TrimSpace(desc.PriceFeedKey)
		if err := desc.validate(); err != nil {
			return nil, err
		}
		if _, exists := reg.bySymbol[desc.Symbol]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, desc.Symbol)
		}
		if desc.IsNative() {
			desc.Address = Native
			natives++
		}
		if desc.PriceFeedKey == "" {
			desc.PriceFeedKey = desc.Symbol
		}
		reg.bySymbol[desc.Symbol] = desc
		reg.symbols = append(reg.symbols, desc.Symbol)
	}
	if natives > 1 {
		return nil, ErrMultipleNatives
	}
	sort.Strings(reg.symbols)
	return reg, nil
}

// Get returns the descriptor registered under symbol, ignoring case.
func (r *Registry) Get(symbol string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	desc, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return desc, nil
}

// ByAddress finds the descriptor whose contract resolves to addr on the given network.
func (r *Registry) ByAddress(addr crypto.Address, passphrase string) (Descriptor, error) {
	if r != nil {
		for _, symbol := range r.symbols {
			desc := r.bySymbol[symbol]
			resolved, err := desc.ContractAddress(passphrase)
			if err != nil {
				continue
			}
			if resolved.Equal(addr) {
				return desc, nil
			}
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownAsset, addr)
}

// Symbols lists registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// All returns every descriptor sorted by symbol.
func (r *Registry) All() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.symbols))
	for _, symbol := range r.symbols {
		out = append(out, r.bySymbol[symbol])
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.symbols)
}
