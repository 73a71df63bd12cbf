package contract

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"defihub/assets"
	"defihub/crypto"
	"defihub/failure"
	"defihub/xdr"
)

const hubContractID = "CBV3Q4PBHOAIHTJUR433DUWHWFI3PBDS4AR52YQM32KMX62APVFK6PMT"

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	reg, err := assets.Default()
	require.NoError(t, err)
	b, err := NewBuilder(reg, hubContractID, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return b
}

func testSource(t *testing.T) Source {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return Source{
		Address:           crypto.MustAddress(crypto.AccountKind, pub).String(),
		NetworkPassphrase: crypto.TestNetworkPassphrase,
	}
}

func TestBuildSwap(t *testing.T) {
	b := newTestBuilder(t)
	src := testSource(t)
	spec, err := b.Build(Swap{
		TokenIn:      "XLM",
		TokenOut:     "USDC",
		AmountIn:     big.NewInt(100_000_000),
		MinAmountOut: big.NewInt(1_190_418),
	}, src)
	require.NoError(t, err)
	require.Equal(t, KindSwap, spec.Kind())
	require.Equal(t, MethodSwapTokens, spec.Method())
	require.Equal(t, hubContractID, spec.ContractID().String())
	require.Equal(t, src.Address, spec.Source().String())
	require.False(t, spec.ReadOnly())

	args := spec.Args()
	require.Len(t, args, 6)
	wantTypes := []xdr.ScValType{xdr.TypeAddress, xdr.TypeAddress, xdr.TypeAddress, xdr.TypeU128, xdr.TypeU128, xdr.TypeU64}
	for i, typ := range wantTypes {
		require.Equal(t, typ, args[i].Type(), "arg %d", i)
	}
	tokenIn, _ := args[1].AsAddress()
	require.True(t, tokenIn.Equal(crypto.NativeAssetContract(crypto.TestNetworkPassphrase)))
	amountIn, _ := args[3].AsBigInt()
	require.Equal(t, int64(100_000_000), amountIn.Int64())

	deadline, ok := spec.Deadline()
	require.True(t, ok)
	require.Equal(t, fixedNow.Add(DefaultDeadlineWindow).Unix(), deadline.Unix())
	encoded, _ := args[5].AsUint64()
	require.Equal(t, uint64(deadline.Unix()), encoded)
}

func TestBuildSwapRejectsDegenerateInput(t *testing.T) {
	b := newTestBuilder(t)
	src := testSource(t)

	_, err := b.Build(Swap{TokenIn: "USDC", TokenOut: "usdc", AmountIn: big.NewInt(1), MinAmountOut: big.NewInt(0)}, src)
	require.ErrorIs(t, err, ErrSameAsset)
	require.Equal(t, failure.KindValidation, failure.KindOf(err))

	_, err = b.Build(Swap{TokenIn: "USDC", TokenOut: "XLM", AmountIn: big.NewInt(0), MinAmountOut: big.NewInt(0)}, src)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = b.Build(Swap{TokenIn: "USDC", TokenOut: "XLM", AmountIn: big.NewInt(5), MinAmountOut: big.NewInt(-1)}, src)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = b.Build(Swap{TokenIn: "DOGE", TokenOut: "XLM", AmountIn: big.NewInt(5), MinAmountOut: big.NewInt(0)}, src)
	require.ErrorIs(t, err, ErrInvalidAsset)
	require.True(t, errors.Is(err, assets.ErrUnknownAsset))
}

func TestBuildPoolAndStakingOperations(t *testing.T) {
	b := newTestBuilder(t)
	src := testSource(t)
	cases := []struct {
		op     Operation
		method string
		args   int
	}{
		{Supply{Asset: "USDC", Amount: big.NewInt(12_500_000)}, MethodSupplyToPool, 3},
		{&Borrow{Asset: "XLM", Amount: big.NewInt(1)}, MethodBorrowFromPool, 3},
		{Stake{Amount: big.NewInt(10)}, MethodStake, 2},
		{Unstake{Amount: big.NewInt(10)}, MethodUnstakeAndClaim, 2},
	}
	for _, tc := range cases {
		spec, err := b.Build(tc.op, src)
		require.NoError(t, err, "%T", tc.op)
		require.Equal(t, tc.method, spec.Method())
		require.Equal(t, tc.op.Kind(), spec.Kind())
		require.Len(t, spec.Args(), tc.args)
		_, hasDeadline := spec.Deadline()
		require.False(t, hasDeadline)
	}

	_, err := b.Build(Stake{Amount: nil}, src)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = b.Build(Supply{Asset: "", Amount: big.NewInt(1)}, src)
	require.ErrorIs(t, err, ErrInvalidAsset)
}

func TestBuildRejectsInvalidSource(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.Build(Stake{Amount: big.NewInt(1)}, Source{Address: hubContractID, NetworkPassphrase: crypto.TestNetworkPassphrase})
	require.ErrorIs(t, err, ErrInvalidSource)

	src := testSource(t)
	src.NetworkPassphrase = ""
	_, err = b.Build(Stake{Amount: big.NewInt(1)}, src)
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestArgsAreCopied(t *testing.T) {
	b := newTestBuilder(t)
	spec, err := b.Build(Stake{Amount: big.NewInt(1)}, testSource(t))
	require.NoError(t, err)
	args := spec.Args()
	args[1] = xdr.Void()
	require.Equal(t, xdr.TypeU128, spec.Args()[1].Type())
}

func TestMethodCheck(t *testing.T) {
	m, ok := LookupMethod(MethodStake)
	require.True(t, ok)
	amount, err := xdr.U128(big.NewInt(1))
	require.NoError(t, err)
	user := xdr.Address(crypto.NativeAssetContract(crypto.TestNetworkPassphrase))

	require.NoError(t, m.Check([]xdr.ScVal{user, amount}))
	require.ErrorIs(t, m.Check([]xdr.ScVal{amount, user}), ErrABIMismatch)
	require.ErrorIs(t, m.Check([]xdr.ScVal{user}), ErrABIMismatch)
}
