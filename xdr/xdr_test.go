package xdr

import (
	"bytes"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	stellarxdr "github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"

	"defihub/crypto"
)

func encode(t *testing.T, v ScVal) []byte {
	t.Helper()
	raw, err := v.XDR()
	require.NoError(t, err)
	out, err := raw.MarshalBinary()
	require.NoError(t, err)
	return out
}

func TestU128EncodesHighAndLowWords(t *testing.T) {
	value := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(5))
	v, err := U128(value)
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 9,
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 5,
	}
	require.Equal(t, want, encode(t, v))

	decoded, err := ParseScVal(base64.StdEncoding.EncodeToString(want))
	require.NoError(t, err)
	got, ok := decoded.AsBigInt()
	require.True(t, ok)
	require.Zero(t, got.Cmp(value))
}

func TestU128RejectsOutOfRange(t *testing.T) {
	_, err := U128(new(big.Int).Lsh(big.NewInt(1), 128))
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = U128(big.NewInt(-1))
	require.ErrorIs(t, err, ErrOutOfRange)

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	v, err := U128(max)
	require.NoError(t, err)
	got, _ := v.AsBigInt()
	require.Zero(t, got.Cmp(max))
}

func TestI128NegativeTwosComplement(t *testing.T) {
	v, err := I128(big.NewInt(-1))
	require.NoError(t, err)
	raw := encode(t, v)
	require.Equal(t, bytes.Repeat([]byte{0xff}, 16), raw[4:])

	decoded, err := ParseScVal(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	got, _ := decoded.AsBigInt()
	require.Equal(t, int64(-1), got.Int64())

	low := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	v, err = I128(low)
	require.NoError(t, err)
	got, _ = v.AsBigInt()
	require.Zero(t, got.Cmp(low))
	_, err = I128(new(big.Int).Sub(low, big.NewInt(1)))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestBoolFalseIsNotVoid(t *testing.T) {
	v := Bool(false)
	require.Equal(t, TypeBool, v.Type())
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, encode(t, v))
	require.Equal(t, TypeVoid, ScVal{}.Type())
	_, ok := ScVal{}.AsBool()
	require.False(t, ok)
	require.Equal(t, []byte{0, 0, 0, 1}, encode(t, ScVal{}))
}

func TestTypeNames(t *testing.T) {
	require.Equal(t, "u128", TypeU128.String())
	require.Equal(t, "address", TypeAddress.String())
	require.Equal(t, "ScValType(99)", ScValType(99).String())
}

func TestSymbolValidation(t *testing.T) {
	_, err := Symbol("swap_tokens")
	require.NoError(t, err)
	_, err = Symbol("swap-tokens")
	require.ErrorIs(t, err, ErrInvalidSymbol)
	_, err = Symbol("a_very_long_symbol_name_that_exceeds_limit")
	require.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestInvalidAddressPoisonsContainer(t *testing.T) {
	v := Vec(U32(1), Address(crypto.Address{}))
	_, err := v.MarshalBase64()
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestNestedPositionMapRoundTrip(t *testing.T) {
	asset := crypto.NativeAssetContract(crypto.TestNetworkPassphrase)
	amount, err := U128(big.NewInt(1_000_000))
	require.NoError(t, err)
	position := Map(
		MapEntry{Key: MustSymbol("borrowed_assets"), Val: Map()},
		MapEntry{Key: MustSymbol("last_reward_update"), Val: U64(42)},
		MapEntry{Key: MustSymbol("supplied_assets"), Val: Map(MapEntry{Key: Address(asset), Val: amount})},
	)
	encoded, err := position.MarshalBase64()
	require.NoError(t, err)

	decoded, err := ParseScVal(encoded)
	require.NoError(t, err)
	supplied, ok := decoded.Lookup("supplied_assets")
	require.True(t, ok)
	entries, ok := supplied.AsMap()
	require.True(t, ok)
	require.Len(t, entries, 1)
	addr, ok := entries[0].Key.AsAddress()
	require.True(t, ok)
	require.True(t, addr.Equal(asset))
	ts, _ := decoded.Lookup("last_reward_update")
	got, ok := ts.AsUint64()
	require.True(t, ok)
	require.Equal(t, uint64(42), got)
	borrowed, _ := decoded.Lookup("borrowed_assets")
	empty, ok := borrowed.AsMap()
	require.True(t, ok)
	require.Empty(t, empty)
}

func TestAccountAddressRoundTrip(t *testing.T) {
	account, err := crypto.DecodeAccount(keypair.MustRandom().Address())
	require.NoError(t, err)
	decoded, err := ParseScVal(mustBase64(t, Address(account)))
	require.NoError(t, err)
	got, ok := decoded.AsAddress()
	require.True(t, ok)
	require.True(t, got.Equal(account))
	require.Equal(t, account.String(), decoded.String())
}

func mustBase64(t *testing.T, v ScVal) string {
	t.Helper()
	out, err := v.MarshalBase64()
	require.NoError(t, err)
	return out
}

func TestParseScValRejectsTrailingBytes(t *testing.T) {
	raw := append(encode(t, U32(7)), 0, 0, 0, 0)
	_, err := ParseScVal(base64.StdEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, ErrMalformed)
	_, err = ParseScVal("not base64")
	require.ErrorIs(t, err, ErrMalformed)
}

func sampleTransaction(t *testing.T) (*Transaction, *keypair.Full) {
	t.Helper()
	kp := keypair.MustRandom()
	source, err := crypto.DecodeAccount(kp.Address())
	require.NoError(t, err)
	amount, err := U128(big.NewInt(10_000_000))
	require.NoError(t, err)
	return &Transaction{
		Source:     source,
		Fee:        100,
		Sequence:   12345,
		TimeBounds: &TimeBounds{MaxTime: 1_700_000_600},
		Invoke: InvokeContract{
			Contract: crypto.NativeAssetContract(crypto.TestNetworkPassphrase),
			Function: "stake",
			Args:     []ScVal{Address(source), amount},
		},
	}, kp
}

func TestEnvelopeCarriesInvocation(t *testing.T) {
	tx, kp := sampleTransaction(t)
	envelope, err := tx.Envelope()
	require.NoError(t, err)

	var env stellarxdr.TransactionEnvelope
	require.NoError(t, stellarxdr.SafeUnmarshalBase64(envelope, &env))
	require.Equal(t, stellarxdr.EnvelopeTypeEnvelopeTypeTx, env.Type)
	require.Empty(t, env.Signatures())
	require.Equal(t, uint32(100), env.Fee())
	require.Equal(t, int64(12345), env.SeqNum())
	src := env.SourceAccount()
	require.Equal(t, kp.Address(), src.Address())
	require.Equal(t, stellarxdr.TimePoint(1_700_000_600), env.TimeBounds().MaxTime)

	ops := env.Operations()
	require.Len(t, ops, 1)
	invoke := ops[0].Body.MustInvokeHostFunctionOp().HostFunction.MustInvokeContract()
	require.Equal(t, stellarxdr.ScSymbol("stake"), invoke.FunctionName)
	require.Len(t, invoke.Args, 2)
}

func TestResourceFeeIsAddedToInclusionFee(t *testing.T) {
	tx, _ := sampleTransaction(t)
	tx.SorobanData = &stellarxdr.SorobanTransactionData{ResourceFee: 5000}
	envelope, err := tx.Envelope()
	require.NoError(t, err)
	var env stellarxdr.TransactionEnvelope
	require.NoError(t, stellarxdr.SafeUnmarshalBase64(envelope, &env))
	require.Equal(t, uint32(5100), env.Fee())
	require.NotNil(t, env.V1.Tx.Ext.SorobanData)
}

func TestHashDependsOnNetwork(t *testing.T) {
	tx, _ := sampleTransaction(t)
	testnet, err := tx.HashHex(crypto.TestNetworkPassphrase)
	require.NoError(t, err)
	public, err := tx.HashHex(crypto.PublicNetworkPassphrase)
	require.NoError(t, err)
	require.Len(t, testnet, 64)
	require.NotEqual(t, testnet, public)

	again, err := tx.HashHex(crypto.TestNetworkPassphrase)
	require.NoError(t, err)
	require.Equal(t, testnet, again)
}

func signEnvelope(t *testing.T, envelope string, kp *keypair.Full) string {
	t.Helper()
	parsed, err := txnbuild.TransactionFromXDR(envelope)
	require.NoError(t, err)
	inner, ok := parsed.Transaction()
	require.True(t, ok)
	signed, err := inner.Sign(network.TestNetworkPassphrase, kp)
	require.NoError(t, err)
	out, err := signed.Base64()
	require.NoError(t, err)
	return out
}

func TestVerifySignedEnvelope(t *testing.T) {
	tx, kp := sampleTransaction(t)
	envelope, err := tx.Envelope()
	require.NoError(t, err)

	signed := signEnvelope(t, envelope, kp)
	require.NoError(t, tx.VerifySignedEnvelope(signed, crypto.TestNetworkPassphrase))

	require.ErrorIs(t, tx.VerifySignedEnvelope(envelope, crypto.TestNetworkPassphrase), ErrEnvelopeMismatch)
	require.ErrorIs(t, tx.VerifySignedEnvelope(signed, crypto.PublicNetworkPassphrase), ErrEnvelopeMismatch)

	stranger := signEnvelope(t, envelope, keypair.MustRandom())
	require.ErrorIs(t, tx.VerifySignedEnvelope(stranger, crypto.TestNetworkPassphrase), ErrEnvelopeMismatch)

	other := *tx
	other.Sequence++
	otherEnvelope, err := other.Envelope()
	require.NoError(t, err)
	swapped := signEnvelope(t, otherEnvelope, kp)
	require.ErrorIs(t, tx.VerifySignedEnvelope(swapped, crypto.TestNetworkPassphrase), ErrEnvelopeMismatch)
}

func TestTransactionRequiresContractTarget(t *testing.T) {
	tx, _ := sampleTransaction(t)
	tx.Invoke.Contract = tx.Source
	_, err := tx.Envelope()
	require.Error(t, err)
}

func TestDecodeSimulationOutputs(t *testing.T) {
	data := stellarxdr.SorobanTransactionData{ResourceFee: 42}
	encoded, err := stellarxdr.MarshalBase64(data)
	require.NoError(t, err)
	decoded, err := DecodeSorobanData(encoded)
	require.NoError(t, err)
	require.Equal(t, stellarxdr.Int64(42), decoded.ResourceFee)

	_, err = DecodeSorobanData("AAAA")
	require.Error(t, err)
	_, err = DecodeAuthEntries([]string{"!!"})
	require.Error(t, err)
}

func TestParseResultSummary(t *testing.T) {
	results := []stellarxdr.OperationResult{}
	encoded, err := stellarxdr.MarshalBase64(stellarxdr.TransactionResult{
		FeeCharged: 1234,
		Result:     stellarxdr.TransactionResultResult{Code: stellarxdr.TransactionResultCodeTxFailed, Results: &results},
	})
	require.NoError(t, err)
	summary, err := ParseResultSummary(encoded)
	require.NoError(t, err)
	require.Equal(t, int64(1234), summary.FeeCharged)
	require.False(t, summary.Succeeded())
	require.Equal(t, "txFAILED", summary.Code.String())
	require.Equal(t, "txBAD_SEQ", TxBadSeq.String())
	require.Equal(t, "txFEE_BUMP_INNER_SUCCESS", TxFeeBumpInnerSuccess.String())
	require.Equal(t, "tx(-99)", ResultCode(-99).String())
}
