package xdr

import (
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	stellarxdr "github.com/stellar/go/xdr"

	"defihub/crypto"
)

var ErrEnvelopeMismatch = errors.New("xdr: signed envelope does not carry the prepared transaction")

// TimeBounds limits the ledger close times during which a transaction is valid.
// A zero MaxTime means no upper bound.
type TimeBounds struct {
	MinTime uint64
	MaxTime uint64
}

// InvokeContract is the single host function carried by every transaction we build.
type InvokeContract struct {
	Contract crypto.Address
	Function string
	Args     []ScVal
}

// Transaction is a single contract invocation. Fee is the inclusion fee; the
// resource fee carried by SorobanData is added on top when the envelope is
// built. Auth and SorobanData come from simulation.
type Transaction struct {
	Source      crypto.Address
	Fee         uint32
	Sequence    int64
	TimeBounds  *TimeBounds
	Invoke      InvokeContract
	Auth        []stellarxdr.SorobanAuthorizationEntry
	SorobanData *stellarxdr.SorobanTransactionData
}

func (tx *Transaction) build() (*txnbuild.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("xdr: transaction required")
	}
	if tx.Source.Kind() != crypto.AccountKind {
		return nil, fmt.Errorf("xdr: transaction source must be an account address")
	}
	if !tx.Invoke.Contract.IsContract() {
		return nil, fmt.Errorf("xdr: invocation target must be a contract address")
	}
	if _, err := Symbol(tx.Invoke.Function); err != nil {
		return nil, err
	}
	target, err := scAddress(tx.Invoke.Contract)
	if err != nil {
		return nil, err
	}
	args := make([]stellarxdr.ScVal, 0, len(tx.Invoke.Args))
	for i, arg := range tx.Invoke.Args {
		raw, err := arg.XDR()
		if err != nil {
			return nil, fmt.Errorf("xdr: encode arg %d: %w", i, err)
		}
		args = append(args, raw)
	}
	op := &txnbuild.InvokeHostFunction{
		HostFunction: stellarxdr.HostFunction{
			Type: stellarxdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &stellarxdr.InvokeContractArgs{
				ContractAddress: target,
				FunctionName:    stellarxdr.ScSymbol(tx.Invoke.Function),
				Args:            args,
			},
		},
		Auth: tx.Auth,
	}
	if tx.SorobanData != nil {
		op.Ext = stellarxdr.TransactionExt{V: 1, SorobanData: tx.SorobanData}
	}
	bounds := txnbuild.NewInfiniteTimeout()
	if tx.TimeBounds != nil {
		bounds = txnbuild.NewTimebounds(int64(tx.TimeBounds.MinTime), int64(tx.TimeBounds.MaxTime))
	}
	built, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: tx.Source.String(), Sequence: tx.Sequence},
		Operations:    []txnbuild.Operation{op},
		BaseFee:       int64(tx.Fee),
		Preconditions: txnbuild.Preconditions{TimeBounds: bounds},
	})
	if err != nil {
		return nil, fmt.Errorf("xdr: build transaction: %w", err)
	}
	return built, nil
}

// Hash returns the network-bound transaction hash that signatures commit to.
func (tx *Transaction) Hash(passphrase string) ([32]byte, error) {
	built, err := tx.build()
	if err != nil {
		return [32]byte{}, err
	}
	return built.Hash(passphrase)
}

// HashHex is Hash rendered the way RPC servers report transaction hashes.
func (tx *Transaction) HashHex(passphrase string) (string, error) {
	built, err := tx.build()
	if err != nil {
		return "", err
	}
	return built.HashHex(passphrase)
}

// Envelope returns the unsigned envelope as base64 XDR.
func (tx *Transaction) Envelope() (string, error) {
	built, err := tx.build()
	if err != nil {
		return "", err
	}
	return built.Base64()
}

// VerifySignedEnvelope checks that signed wraps exactly this transaction and
// carries a valid signature from the source account over its hash on the
// network identified by passphrase.
func (tx *Transaction) VerifySignedEnvelope(signed, passphrase string) error {
	want, err := tx.Hash(passphrase)
	if err != nil {
		return err
	}
	parsed, err := txnbuild.TransactionFromXDR(signed)
	if err != nil {
		return fmt.Errorf("xdr: decode signed envelope: %w", err)
	}
	inner, ok := parsed.Transaction()
	if !ok {
		return fmt.Errorf("%w: fee bump envelope", ErrEnvelopeMismatch)
	}
	got, err := inner.Hash(passphrase)
	if err != nil {
		return err
	}
	if got != want {
		return ErrEnvelopeMismatch
	}
	sigs := inner.Signatures()
	if len(sigs) == 0 {
		return fmt.Errorf("%w: no signatures", ErrEnvelopeMismatch)
	}
	signer, err := keypair.ParseAddress(tx.Source.String())
	if err != nil {
		return err
	}
	hint := stellarxdr.SignatureHint(signer.Hint())
	for _, sig := range sigs {
		if sig.Hint == hint && signer.Verify(want[:], sig.Signature) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no valid signature from %s", ErrEnvelopeMismatch, tx.Source)
}

// DecodeAuthEntries decodes the base64 authorization entries returned by simulation.
func DecodeAuthEntries(encoded []string) ([]stellarxdr.SorobanAuthorizationEntry, error) {
	out := make([]stellarxdr.SorobanAuthorizationEntry, 0, len(encoded))
	for i, entry := range encoded {
		var auth stellarxdr.SorobanAuthorizationEntry
		if err := stellarxdr.SafeUnmarshalBase64(entry, &auth); err != nil {
			return nil, fmt.Errorf("xdr: auth entry %d: %w", i, err)
		}
		out = append(out, auth)
	}
	return out, nil
}

// DecodeSorobanData decodes the base64 resource data returned by simulation.
func DecodeSorobanData(encoded string) (*stellarxdr.SorobanTransactionData, error) {
	var data stellarxdr.SorobanTransactionData
	if err := stellarxdr.SafeUnmarshalBase64(encoded, &data); err != nil {
		return nil, fmt.Errorf("xdr: resource data: %w", err)
	}
	return &data, nil
}
