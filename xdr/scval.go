// Package xdr adapts the Stellar XDR types to the values the hub contract
// speaks: constructors that enforce the contract's integer and symbol ranges,
// typed accessors for decoded results and the transaction envelope built
// around a single contract invocation.
package xdr

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	stellarxdr "github.com/stellar/go/xdr"

	"defihub/crypto"
)

// ScValType is the discriminant of a contract value.
type ScValType int32

const (
	TypeBool      = ScValType(stellarxdr.ScValTypeScvBool)
	TypeVoid      = ScValType(stellarxdr.ScValTypeScvVoid)
	TypeError     = ScValType(stellarxdr.ScValTypeScvError)
	TypeU32       = ScValType(stellarxdr.ScValTypeScvU32)
	TypeI32       = ScValType(stellarxdr.ScValTypeScvI32)
	TypeU64       = ScValType(stellarxdr.ScValTypeScvU64)
	TypeI64       = ScValType(stellarxdr.ScValTypeScvI64)
	TypeTimepoint = ScValType(stellarxdr.ScValTypeScvTimepoint)
	TypeDuration  = ScValType(stellarxdr.ScValTypeScvDuration)
	TypeU128      = ScValType(stellarxdr.ScValTypeScvU128)
	TypeI128      = ScValType(stellarxdr.ScValTypeScvI128)
	TypeBytes     = ScValType(stellarxdr.ScValTypeScvBytes)
	TypeString    = ScValType(stellarxdr.ScValTypeScvString)
	TypeSymbol    = ScValType(stellarxdr.ScValTypeScvSymbol)
	TypeVec       = ScValType(stellarxdr.ScValTypeScvVec)
	TypeMap       = ScValType(stellarxdr.ScValTypeScvMap)
	TypeAddress   = ScValType(stellarxdr.ScValTypeScvAddress)
)

// String returns the short lower-case name used in ABI errors, e.g. "u128".
func (t ScValType) String() string {
	name := stellarxdr.ScValType(t).String()
	if name == "" {
		return fmt.Sprintf("ScValType(%d)", int32(t))
	}
	return strings.ToLower(strings.TrimPrefix(name, "ScValTypeScv"))
}

const maxSymbolLength = 32

var (
	ErrUnsupportedType = errors.New("xdr: unsupported value type")
	ErrOutOfRange      = errors.New("xdr: value out of range")
	ErrInvalidSymbol   = errors.New("xdr: invalid symbol")
	ErrMalformed       = errors.New("xdr: malformed value")
)

var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	two128  = new(big.Int).Lsh(big.NewInt(1), 128)
)

// MapEntry is a single key/value pair of a contract map.
type MapEntry struct {
	Key ScVal
	Val ScVal
}

// ScVal is a contract value. The zero value is void.
type ScVal struct {
	raw stellarxdr.ScVal
	set bool
	err error
}

// FromXDR wraps a value decoded by the Stellar XDR package.
func FromXDR(raw stellarxdr.ScVal) ScVal {
	return ScVal{raw: raw, set: true}
}

// XDR returns the wire value, or the error recorded when it was constructed.
func (v ScVal) XDR() (stellarxdr.ScVal, error) {
	if v.err != nil {
		return stellarxdr.ScVal{}, v.err
	}
	if !v.set {
		return stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvVoid}, nil
	}
	return v.raw, nil
}

func invalid(err error) ScVal {
	return ScVal{set: true, raw: stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvVoid}, err: err}
}

func Void() ScVal {
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvVoid})
}

func Bool(v bool) ScVal {
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvBool, B: &v})
}

func U32(v uint32) ScVal {
	u := stellarxdr.Uint32(v)
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvU32, U32: &u})
}

func U64(v uint64) ScVal {
	u := stellarxdr.Uint64(v)
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvU64, U64: &u})
}

func I64(v int64) ScVal {
	i := stellarxdr.Int64(v)
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvI64, I64: &i})
}

// U128 wraps a non-negative integer below 2^128.
func U128(v *big.Int) (ScVal, error) {
	if v == nil || v.Sign() < 0 {
		return ScVal{}, fmt.Errorf("%w: u128 requires a non-negative value", ErrOutOfRange)
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u[2] != 0 || u[3] != 0 {
		return ScVal{}, fmt.Errorf("%w: %s exceeds u128", ErrOutOfRange, v)
	}
	parts := stellarxdr.UInt128Parts{Hi: stellarxdr.Uint64(u[1]), Lo: stellarxdr.Uint64(u[0])}
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvU128, U128: &parts}), nil
}

// I128 wraps a signed integer in [-2^127, 2^127).
func I128(v *big.Int) (ScVal, error) {
	if v == nil || v.Cmp(minI128) < 0 || v.Cmp(maxI128) > 0 {
		return ScVal{}, fmt.Errorf("%w: %v exceeds i128", ErrOutOfRange, v)
	}
	twos := new(big.Int).Set(v)
	if twos.Sign() < 0 {
		twos.Add(twos, two128)
	}
	u, _ := uint256.FromBig(twos)
	parts := stellarxdr.Int128Parts{Hi: stellarxdr.Int64(int64(u[1])), Lo: stellarxdr.Uint64(u[0])}
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvI128, I128: &parts}), nil
}

// Symbol wraps a contract identifier of up to 32 characters from [a-zA-Z0-9_].
func Symbol(s string) (ScVal, error) {
	if len(s) > maxSymbolLength {
		return ScVal{}, fmt.Errorf("%w: %q longer than %d", ErrInvalidSymbol, s, maxSymbolLength)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return ScVal{}, fmt.Errorf("%w: %q contains %q", ErrInvalidSymbol, s, r)
		}
	}
	sym := stellarxdr.ScSymbol(s)
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvSymbol, Sym: &sym}), nil
}

// MustSymbol is Symbol for compile-time constants.
func MustSymbol(s string) ScVal {
	v, err := Symbol(s)
	if err != nil {
		panic(err)
	}
	return v
}

func Vec(items ...ScVal) ScVal {
	vec := make(stellarxdr.ScVec, 0, len(items))
	for i, item := range items {
		raw, err := item.XDR()
		if err != nil {
			return invalid(fmt.Errorf("vec item %d: %w", i, err))
		}
		vec = append(vec, raw)
	}
	ptr := &vec
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvVec, Vec: &ptr})
}

func Map(entries ...MapEntry) ScVal {
	m := make(stellarxdr.ScMap, 0, len(entries))
	for i, entry := range entries {
		key, err := entry.Key.XDR()
		if err != nil {
			return invalid(fmt.Errorf("map key %d: %w", i, err))
		}
		val, err := entry.Val.XDR()
		if err != nil {
			return invalid(fmt.Errorf("map value %d: %w", i, err))
		}
		m = append(m, stellarxdr.ScMapEntry{Key: key, Val: val})
	}
	ptr := &m
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvMap, Map: &ptr})
}

func Address(addr crypto.Address) ScVal {
	sc, err := scAddress(addr)
	if err != nil {
		return invalid(err)
	}
	return FromXDR(stellarxdr.ScVal{Type: stellarxdr.ScValTypeScvAddress, Address: &sc})
}

func scAddress(addr crypto.Address) (stellarxdr.ScAddress, error) {
	payload := addr.Payload()
	switch addr.Kind() {
	case crypto.AccountKind:
		key := stellarxdr.Uint256(payload)
		account := stellarxdr.AccountId{Type: stellarxdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &key}
		return stellarxdr.ScAddress{Type: stellarxdr.ScAddressTypeScAddressTypeAccount, AccountId: &account}, nil
	case crypto.ContractKind:
		id := stellarxdr.ContractId(payload)
		return stellarxdr.ScAddress{Type: stellarxdr.ScAddressTypeScAddressTypeContract, ContractId: &id}, nil
	default:
		return stellarxdr.ScAddress{}, fmt.Errorf("%w: address kind %s", ErrUnsupportedType, addr.Kind())
	}
}

func (v ScVal) Type() ScValType {
	if !v.set {
		return TypeVoid
	}
	return ScValType(v.raw.Type)
}

func (v ScVal) AsBool() (bool, bool) {
	if !v.set {
		return false, false
	}
	return v.raw.GetB()
}

// AsUint64 returns unsigned scalars (u32, u64, timepoint, duration).
func (v ScVal) AsUint64() (uint64, bool) {
	if !v.set {
		return 0, false
	}
	if u, ok := v.raw.GetU32(); ok {
		return uint64(u), true
	}
	if u, ok := v.raw.GetU64(); ok {
		return uint64(u), true
	}
	if u, ok := v.raw.GetTimepoint(); ok {
		return uint64(u), true
	}
	if u, ok := v.raw.GetDuration(); ok {
		return uint64(u), true
	}
	return 0, false
}

func (v ScVal) AsInt64() (int64, bool) {
	if !v.set {
		return 0, false
	}
	if i, ok := v.raw.GetI32(); ok {
		return int64(i), true
	}
	if i, ok := v.raw.GetI64(); ok {
		return int64(i), true
	}
	return 0, false
}

// AsBigInt returns any integer value as a big.Int.
func (v ScVal) AsBigInt() (*big.Int, bool) {
	if !v.set {
		return nil, false
	}
	if parts, ok := v.raw.GetU128(); ok {
		n := new(big.Int).SetUint64(uint64(parts.Hi))
		n.Lsh(n, 64)
		return n.Add(n, new(big.Int).SetUint64(uint64(parts.Lo))), true
	}
	if parts, ok := v.raw.GetI128(); ok {
		n := big.NewInt(int64(parts.Hi))
		n.Lsh(n, 64)
		return n.Add(n, new(big.Int).SetUint64(uint64(parts.Lo))), true
	}
	if u, ok := v.AsUint64(); ok {
		return new(big.Int).SetUint64(u), true
	}
	if i, ok := v.AsInt64(); ok {
		return big.NewInt(i), true
	}
	return nil, false
}

// AsString returns string and symbol contents.
func (v ScVal) AsString() (string, bool) {
	if !v.set {
		return "", false
	}
	if s, ok := v.raw.GetStr(); ok {
		return string(s), true
	}
	if s, ok := v.raw.GetSym(); ok {
		return string(s), true
	}
	return "", false
}

func (v ScVal) AsVec() ([]ScVal, bool) {
	if v.Type() != TypeVec {
		return nil, false
	}
	out := []ScVal{}
	if vec, ok := v.raw.GetVec(); ok && vec != nil {
		for _, item := range *vec {
			out = append(out, FromXDR(item))
		}
	}
	return out, true
}

func (v ScVal) AsMap() ([]MapEntry, bool) {
	if v.Type() != TypeMap {
		return nil, false
	}
	out := []MapEntry{}
	if m, ok := v.raw.GetMap(); ok && m != nil {
		for _, entry := range *m {
			out = append(out, MapEntry{Key: FromXDR(entry.Key), Val: FromXDR(entry.Val)})
		}
	}
	return out, true
}

// AsAddress returns account and contract addresses. Muxed, pool and claimable
// balance addresses are reported as not an address.
func (v ScVal) AsAddress() (crypto.Address, bool) {
	if !v.set {
		return crypto.Address{}, false
	}
	sc, ok := v.raw.GetAddress()
	if !ok {
		return crypto.Address{}, false
	}
	switch sc.Type {
	case stellarxdr.ScAddressTypeScAddressTypeAccount:
		key, ok := sc.MustAccountId().GetEd25519()
		if !ok {
			return crypto.Address{}, false
		}
		addr, err := crypto.NewAddress(crypto.AccountKind, key[:])
		return addr, err == nil
	case stellarxdr.ScAddressTypeScAddressTypeContract:
		id := sc.MustContractId()
		addr, err := crypto.NewAddress(crypto.ContractKind, id[:])
		return addr, err == nil
	}
	return crypto.Address{}, false
}

// Lookup returns the value stored under a symbol key of a map value.
func (v ScVal) Lookup(key string) (ScVal, bool) {
	entries, _ := v.AsMap()
	for _, entry := range entries {
		if name, ok := entry.Key.AsString(); ok && name == key {
			return entry.Val, true
		}
	}
	return ScVal{}, false
}

func (v ScVal) String() string {
	switch v.Type() {
	case TypeVoid:
		return "void"
	case TypeBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	case TypeU32, TypeU64, TypeTimepoint, TypeDuration, TypeI32, TypeI64, TypeU128, TypeI128:
		n, _ := v.AsBigInt()
		return fmt.Sprintf("%s:%s", n, v.Type())
	case TypeString:
		s, _ := v.AsString()
		return fmt.Sprintf("%q", s)
	case TypeSymbol:
		s, _ := v.AsString()
		return s
	case TypeAddress:
		if addr, ok := v.AsAddress(); ok {
			return addr.String()
		}
	case TypeVec:
		items, _ := v.AsVec()
		return fmt.Sprintf("vec%v", items)
	case TypeMap:
		entries, _ := v.AsMap()
		return fmt.Sprintf("map%v", entries)
	}
	return v.raw.String()
}

// MarshalBase64 returns the base64 XDR form of v.
func (v ScVal) MarshalBase64() (string, error) {
	raw, err := v.XDR()
	if err != nil {
		return "", err
	}
	return stellarxdr.MarshalBase64(raw)
}

// ParseScVal decodes a base64 XDR contract value. The input must be consumed
// entirely.
func ParseScVal(encoded string) (ScVal, error) {
	var raw stellarxdr.ScVal
	if err := stellarxdr.SafeUnmarshalBase64(encoded, &raw); err != nil {
		return ScVal{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromXDR(raw), nil
}
