package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

func TestAccountAddressRoundTrip(t *testing.T) {
	kp := keypair.MustRandom()
	pub, err := strkey.Decode(strkey.VersionByteAccountID, kp.Address())
	if err != nil {
		t.Fatalf("decode raw key: %v", err)
	}
	addr, err := NewAddress(AccountKind, pub)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	encoded := addr.String()
	if encoded != kp.Address() {
		t.Fatalf("unexpected account strkey %q, want %q", encoded, kp.Address())
	}
	if !strings.HasPrefix(encoded, "G") || len(encoded) != 56 {
		t.Fatalf("unexpected account strkey %q", encoded)
	}
	decoded, err := DecodeAccount(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
	if !bytes.Equal(decoded.Bytes(), pub) {
		t.Fatalf("payload mismatch")
	}
	if _, err := DecodeContract(encoded); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestDecodeAddressRejectsCorruption(t *testing.T) {
	addr := NativeAssetContract(TestNetworkPassphrase).String()
	corrupted := []byte(addr)
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	if _, err := DecodeAddress(string(corrupted)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected checksum error, got %v", err)
	}
	if _, err := DecodeAddress(addr[:55]); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, err := DecodeAddress("GA5ZSE9EQLFZB5E34TRTFWNW5T76W2KQZ7ZYPZB2O2C3Y5QTKH7C5OL6"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected base32 error, got %v", err)
	}
	seed := keypair.MustRandom().Seed()
	if _, err := DecodeAddress(seed); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected secret seeds to be refused, got %v", err)
	}
}

func TestNativeAssetContractTestnet(t *testing.T) {
	got := NativeAssetContract(TestNetworkPassphrase)
	const want = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
	if got.String() != want {
		t.Fatalf("native contract mismatch: got %s want %s", got, want)
	}
	if !got.IsContract() {
		t.Fatalf("expected contract kind")
	}
	if NetworkName(TestNetworkPassphrase) != "TESTNET" {
		t.Fatalf("unexpected network name")
	}
}

func TestAssetContractIsNetworkBound(t *testing.T) {
	issuer := keypair.MustRandom().Address()
	testnet, err := AssetContract("USDT", issuer, TestNetworkPassphrase)
	if err != nil {
		t.Fatalf("asset contract: %v", err)
	}
	public, err := AssetContract("USDT", issuer, PublicNetworkPassphrase)
	if err != nil {
		t.Fatalf("asset contract: %v", err)
	}
	if !testnet.IsContract() || testnet.Equal(public) {
		t.Fatalf("expected distinct contract addresses, got %s and %s", testnet, public)
	}
	again, _ := AssetContract("USDT", issuer, TestNetworkPassphrase)
	if !again.Equal(testnet) {
		t.Fatalf("asset contract is not deterministic")
	}
	if _, err := AssetContract("USDT", "not-an-issuer", TestNetworkPassphrase); err == nil {
		t.Fatalf("expected invalid issuer to fail")
	}
}
