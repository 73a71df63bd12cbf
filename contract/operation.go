package contract

import "math/big"

// Kind names the user-facing operation a CallSpec was built from.
type Kind string

const (
	KindSwap    Kind = "swap"
	KindSupply  Kind = "supply"
	KindBorrow  Kind = "borrow"
	KindStake   Kind = "stake"
	KindUnstake Kind = "unstake"
	KindView    Kind = "view"
)

// Operation is the closed set of state-changing hub calls. Only the types in
// this file implement it.
type Operation interface {
	Kind() Kind
	isOperation()
}

// Swap exchanges AmountIn of TokenIn for at least MinAmountOut of TokenOut.
// Amounts are chain units.
type Swap struct {
	TokenIn      string
	TokenOut     string
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// Supply deposits Amount of Asset into the lending pool.
type Supply struct {
	Asset  string
	Amount *big.Int
}

// Borrow draws Amount of Asset from the lending pool.
type Borrow struct {
	Asset  string
	Amount *big.Int
}

// Stake locks Amount of the staking token.
type Stake struct {
	Amount *big.Int
}

// Unstake releases Amount of staked tokens and claims accrued rewards.
type Unstake struct {
	Amount *big.Int
}

func (Swap) Kind() Kind    { return KindSwap }
func (Supply) Kind() Kind  { return KindSupply }
func (Borrow) Kind() Kind  { return KindBorrow }
func (Stake) Kind() Kind   { return KindStake }
func (Unstake) Kind() Kind { return KindUnstake }

func (Swap) isOperation()    {}
func (Supply) isOperation()  {}
func (Borrow) isOperation()  {}
func (Stake) isOperation()   {}
func (Unstake) isOperation() {}
