package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"defihub/xdr"
)

// SimulateResult is the response of simulateTransaction.
type SimulateResult struct {
	TransactionData string           `json:"transactionData"`
	MinResourceFee  string           `json:"minResourceFee"`
	Results         []HostFuncResult `json:"results"`
	Error           string           `json:"error,omitempty"`
	LatestLedger    uint32           `json:"latestLedger"`
}

// HostFuncResult carries the return value and required authorizations of one
// simulated host function.
type HostFuncResult struct {
	Auth []string `json:"auth"`
	XDR  string   `json:"xdr"`
}

// Failed reports whether the simulation reverted or could not run.
func (r *SimulateResult) Failed() bool {
	return r == nil || strings.TrimSpace(r.Error) != ""
}

// ResourceFee parses the minimum resource fee in stroops.
func (r *SimulateResult) ResourceFee() (uint32, error) {
	raw := strings.TrimSpace(r.MinResourceFee)
	if raw == "" {
		return 0, nil
	}
	fee, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("chain: resource fee %q: %w", raw, err)
	}
	return uint32(fee), nil
}

// ReturnValue decodes the return value of the single invoked function.
func (r *SimulateResult) ReturnValue() (xdr.ScVal, error) {
	if r.Failed() {
		return xdr.ScVal{}, fmt.Errorf("chain: simulation failed: %s", r.Error)
	}
	if len(r.Results) == 0 {
		return xdr.ScVal{}, fmt.Errorf("chain: simulation returned no results")
	}
	return xdr.ParseScVal(r.Results[0].XDR)
}

// AuthEntries returns the authorization entries to embed in the transaction.
func (r *SimulateResult) AuthEntries() []string {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return r.Results[0].Auth
}

// SimulateTransaction dry-runs an unsigned envelope.
func (c *Client) SimulateTransaction(ctx context.Context, envelope string) (*SimulateResult, error) {
	var out SimulateResult
	if err := c.call(ctx, "simulateTransaction", map[string]string{"transaction": envelope}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submission statuses returned by sendTransaction.
const (
	SendPending       = "PENDING"
	SendDuplicate     = "DUPLICATE"
	SendTryAgainLater = "TRY_AGAIN_LATER"
	SendError         = "ERROR"
)

// SendResult is the response of sendTransaction.
type SendResult struct {
	Status         string `json:"status"`
	Hash           string `json:"hash"`
	ErrorResultXDR string `json:"errorResultXdr,omitempty"`
	LatestLedger   uint32 `json:"latestLedger"`
}

// Accepted reports whether the relay took the transaction for inclusion.
func (r *SendResult) Accepted() bool {
	return r != nil && (r.Status == SendPending || r.Status == SendDuplicate)
}

// SendTransaction relays a signed envelope. A transport error means the
// outcome is unknown; the caller must not assume it was rejected.
func (c *Client) SendTransaction(ctx context.Context, signedEnvelope string) (*SendResult, error) {
	var out SendResult
	if err := c.call(ctx, "sendTransaction", map[string]string{"transaction": signedEnvelope}, &out); err != nil {
		return nil, err
	}
	out.Status = strings.ToUpper(strings.TrimSpace(out.Status))
	return &out, nil
}

// Ledger statuses returned by getTransaction.
const (
	TxStatusSuccess  = "SUCCESS"
	TxStatusNotFound = "NOT_FOUND"
	TxStatusFailed   = "FAILED"
)

// TransactionInfo is the response of getTransaction.
type TransactionInfo struct {
	Status           string `json:"status"`
	ResultXDR        string `json:"resultXdr,omitempty"`
	ResultMetaXDR    string `json:"resultMetaXdr,omitempty"`
	Ledger           uint32 `json:"ledger,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	LatestLedger     uint32 `json:"latestLedger"`
	ApplicationOrder int    `json:"applicationOrder,omitempty"`
}

// GetTransaction returns the ledger status of hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*TransactionInfo, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if len(hash) != 64 {
		return nil, fmt.Errorf("chain: transaction hash must be 64 hex characters")
	}
	var out TransactionInfo
	if err := c.call(ctx, "getTransaction", map[string]string{"hash": hash}, &out); err != nil {
		return nil, err
	}
	out.Status = strings.ToUpper(strings.TrimSpace(out.Status))
	return &out, nil
}
