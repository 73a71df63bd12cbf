package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"
)

// AddressKind identifies the strkey version byte carried by an address.
type AddressKind strkey.VersionByte

const (
	// AccountKind marks an ed25519 account address ("G...").
	AccountKind = AddressKind(strkey.VersionByteAccountID)
	// ContractKind marks a contract address ("C...").
	ContractKind = AddressKind(strkey.VersionByteContract)
)

// PayloadLength is the size of the key or hash carried by every supported address.
const PayloadLength = 32

const encodedLength = 56

var ErrInvalidAddress = errors.New("crypto: invalid address")

func (k AddressKind) String() string {
	switch k {
	case AccountKind:
		return "account"
	case ContractKind:
		return "contract"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Address is a decoded account or contract strkey.
type Address struct {
	kind  AddressKind
	bytes [PayloadLength]byte
}

func NewAddress(kind AddressKind, b []byte) (Address, error) {
	if kind != AccountKind && kind != ContractKind {
		return Address{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidAddress, kind)
	}
	if len(b) != PayloadLength {
		return Address{}, fmt.Errorf("%w: payload must be %d bytes, got %d", ErrInvalidAddress, PayloadLength, len(b))
	}
	addr := Address{kind: kind}
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustAddress is NewAddress for payloads known to be well formed.
func MustAddress(kind AddressKind, b []byte) Address {
	addr, err := NewAddress(kind, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return strkey.MustEncode(strkey.VersionByte(a.kind), a.bytes[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, PayloadLength)
	copy(out, a.bytes[:])
	return out
}

// Payload returns the raw key or contract hash.
func (a Address) Payload() [PayloadLength]byte {
	return a.bytes
}

// Kind returns the version of the address.
func (a Address) Kind() AddressKind {
	return a.kind
}

func (a Address) IsZero() bool {
	return a.kind == 0
}

func (a Address) IsContract() bool {
	return a.kind == ContractKind
}

func (a Address) Equal(other Address) bool {
	return a.kind == other.kind && bytes.Equal(a.bytes[:], other.bytes[:])
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if len(trimmed) != encodedLength {
		return Address{}, fmt.Errorf("%w: %q has length %d", ErrInvalidAddress, addrStr, len(trimmed))
	}
	version, err := strkey.Version(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	kind := AddressKind(version)
	if kind != AccountKind && kind != ContractKind {
		return Address{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidAddress, kind)
	}
	payload, err := strkey.Decode(version, trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, trimmed, err)
	}
	return NewAddress(kind, payload)
}

// DecodeAccount decodes addrStr and requires it to be an account address.
func DecodeAccount(addrStr string) (Address, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return Address{}, err
	}
	if addr.kind != AccountKind {
		return Address{}, fmt.Errorf("%w: %s is not an account address", ErrInvalidAddress, addrStr)
	}
	return addr, nil
}

// DecodeContract decodes addrStr and requires it to be a contract address.
func DecodeContract(addrStr string) (Address, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return Address{}, err
	}
	if addr.kind != ContractKind {
		return Address{}, fmt.Errorf("%w: %s is not a contract address", ErrInvalidAddress, addrStr)
	}
	return addr, nil
}

func IsValidAddress(addrStr string) bool {
	_, err := DecodeAddress(addrStr)
	return err == nil
}
