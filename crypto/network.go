package crypto

import (
	"strings"

	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// Well known network passphrases.
const (
	PublicNetworkPassphrase = network.PublicNetworkPassphrase
	TestNetworkPassphrase   = network.TestNetworkPassphrase
	FuturenetPassphrase     = network.FutureNetworkPassphrase
)

// NetworkID returns the SHA-256 digest of the passphrase used to domain-separate
// transaction hashes and contract identifiers.
func NetworkID(passphrase string) [32]byte {
	return network.ID(passphrase)
}

// NativeAssetContract derives the contract address that wraps the native asset on
// the network identified by passphrase.
func NativeAssetContract(passphrase string) Address {
	id, err := xdr.MustNewNativeAsset().ContractID(passphrase)
	if err != nil {
		panic(err)
	}
	return MustAddress(ContractKind, id[:])
}

// AssetContract derives the contract address wrapping the classic asset
// code:issuer on the network identified by passphrase.
func AssetContract(code, issuer, passphrase string) (Address, error) {
	asset, err := xdr.NewCreditAsset(code, issuer)
	if err != nil {
		return Address{}, err
	}
	id, err := asset.ContractID(passphrase)
	if err != nil {
		return Address{}, err
	}
	return NewAddress(ContractKind, id[:])
}

// NetworkName maps a passphrase onto the short name wallets report.
func NetworkName(passphrase string) string {
	switch strings.TrimSpace(passphrase) {
	case PublicNetworkPassphrase:
		return "PUBLIC"
	case TestNetworkPassphrase:
		return "TESTNET"
	case FuturenetPassphrase:
		return "FUTURENET"
	default:
		return "STANDALONE"
	}
}
