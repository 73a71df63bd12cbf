package contract

import (
	"fmt"

	"defihub/xdr"
)

// Hub method names.
const (
	MethodSwapTokens            = "swap_tokens"
	MethodSupplyToPool          = "supply_to_pool"
	MethodBorrowFromPool        = "borrow_from_pool"
	MethodStake                 = "stake"
	MethodUnstakeAndClaim       = "unstake_and_claim"
	MethodGetAssetPrice         = "get_asset_price"
	MethodGetUserPosition       = "get_user_position"
	MethodCalculateHealthFactor = "calculate_health_factor"
	MethodGetStakingPool        = "get_staking_pool"
)

// Param is one positional argument of a contract method.
type Param struct {
	Name string
	Type xdr.ScValType
	// Optional parameters also accept void.
	Optional bool
}

// Method is the declared signature of a contract entry point.
type Method struct {
	Name     string
	Params   []Param
	ReadOnly bool
}

var hubABI = map[string]Method{
	MethodSwapTokens: {Name: MethodSwapTokens, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "token_in", Type: xdr.TypeAddress},
		{Name: "token_out", Type: xdr.TypeAddress},
		{Name: "amount_in", Type: xdr.TypeU128},
		{Name: "min_amount_out", Type: xdr.TypeU128},
		{Name: "deadline", Type: xdr.TypeU64},
	}},
	MethodSupplyToPool: {Name: MethodSupplyToPool, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "asset", Type: xdr.TypeAddress},
		{Name: "amount", Type: xdr.TypeU128},
	}},
	MethodBorrowFromPool: {Name: MethodBorrowFromPool, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "asset", Type: xdr.TypeAddress},
		{Name: "amount", Type: xdr.TypeU128},
	}},
	MethodStake: {Name: MethodStake, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "amount", Type: xdr.TypeU128},
	}},
	MethodUnstakeAndClaim: {Name: MethodUnstakeAndClaim, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "amount", Type: xdr.TypeU128},
	}},
	MethodGetAssetPrice: {Name: MethodGetAssetPrice, ReadOnly: true, Params: []Param{
		{Name: "asset", Type: xdr.TypeAddress},
	}},
	MethodGetUserPosition: {Name: MethodGetUserPosition, ReadOnly: true, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
	}},
	MethodCalculateHealthFactor: {Name: MethodCalculateHealthFactor, ReadOnly: true, Params: []Param{
		{Name: "user", Type: xdr.TypeAddress},
		{Name: "additional_borrow", Type: xdr.TypeVec, Optional: true},
	}},
	MethodGetStakingPool: {Name: MethodGetStakingPool, ReadOnly: true, Params: []Param{
		{Name: "btoken", Type: xdr.TypeAddress},
	}},
}

// LookupMethod returns the declared signature of name.
func LookupMethod(name string) (Method, bool) {
	m, ok := hubABI[name]
	return m, ok
}

// Check verifies that args match the declared parameter count, order and types.
func (m Method) Check(args []xdr.ScVal) error {
	if len(args) != len(m.Params) {
		return fmt.Errorf("%w: %s expects %d args, got %d", ErrABIMismatch, m.Name, len(m.Params), len(args))
	}
	for i, param := range m.Params {
		got := args[i].Type()
		if got == param.Type || (param.Optional && got == xdr.TypeVoid) {
			continue
		}
		return fmt.Errorf("%w: %s arg %d (%s) is %s, want %s", ErrABIMismatch, m.Name, i, param.Name, got, param.Type)
	}
	return nil
}
