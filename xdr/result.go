package xdr

import (
	"fmt"
	"strings"
	"unicode"

	stellarxdr "github.com/stellar/go/xdr"
)

// ResultCode is the outcome code of an applied transaction.
type ResultCode stellarxdr.TransactionResultCode

const (
	TxFeeBumpInnerSuccess = ResultCode(stellarxdr.TransactionResultCodeTxFeeBumpInnerSuccess)
	TxSuccess             = ResultCode(stellarxdr.TransactionResultCodeTxSuccess)
	TxFailed              = ResultCode(stellarxdr.TransactionResultCodeTxFailed)
	TxBadSeq              = ResultCode(stellarxdr.TransactionResultCodeTxBadSeq)
	TxInsufficientFee     = ResultCode(stellarxdr.TransactionResultCodeTxInsufficientFee)
)

// String renders the code the way Horizon and the RPC server report it,
// e.g. "txBAD_SEQ".
func (c ResultCode) String() string {
	name := strings.TrimPrefix(stellarxdr.TransactionResultCode(c).String(), "TransactionResultCodeTx")
	if name == "" {
		return fmt.Sprintf("tx(%d)", int32(c))
	}
	var b strings.Builder
	b.WriteString("tx")
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ResultSummary is the head of a TransactionResult.
type ResultSummary struct {
	FeeCharged int64
	Code       ResultCode
}

func (r ResultSummary) Succeeded() bool {
	return r.Code == TxSuccess || r.Code == TxFeeBumpInnerSuccess
}

// ParseResultSummary reads the fee and result code from a base64 TransactionResult.
func ParseResultSummary(encoded string) (ResultSummary, error) {
	var res stellarxdr.TransactionResult
	if err := stellarxdr.SafeUnmarshalBase64(encoded, &res); err != nil {
		return ResultSummary{}, fmt.Errorf("xdr: decode result: %w", err)
	}
	return ResultSummary{FeeCharged: int64(res.FeeCharged), Code: ResultCode(res.Result.Code)}, nil
}
