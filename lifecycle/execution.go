package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	stellarxdr "github.com/stellar/go/xdr"

	"defihub/chain"
	"defihub/contract"
	"defihub/failure"
	"defihub/wallet"
	"defihub/xdr"
)

// execution is the state of one Execute call. It is owned by a single goroutine.
type execution struct {
	r       *Runner
	ctx     context.Context
	session Signer
	done    <-chan struct{}
	spec    contract.CallSpec
	res     *Result
}

func (e *execution) run() {
	if err := e.validate(); err != nil {
		e.fail(err)
		return
	}
	tx, ok := e.prepare()
	if !ok {
		return
	}
	signed, ok := e.sign(tx)
	if !ok {
		return
	}
	if !e.submit(tx, signed) {
		return
	}
	e.await()
}

func (e *execution) validate() error {
	if e.spec.IsZero() {
		return failure.New(failure.KindValidation, "execute", ErrEmptyCall)
	}
	if e.spec.ReadOnly() {
		return failure.New(failure.KindValidation, "execute", ErrReadOnly)
	}
	if e.session == nil {
		return failure.New(failure.KindExtension, "execute", wallet.ErrNotConnected)
	}
	snap := e.session.Snapshot()
	if !snap.CanSign() {
		return failure.New(failure.KindExtension, "execute", wallet.ErrNotConnected)
	}
	if snap.Address != e.spec.Source().String() {
		return failure.New(failure.KindValidation, "execute", ErrSourceMismatch)
	}
	return nil
}

// prepare loads the sequence number, simulates and assembles the transaction.
func (e *execution) prepare() (*xdr.Transaction, bool) {
	ctx, end := e.r.step(e.ctx, "load_account")
	acct, err := e.r.chain.LoadAccount(ctx, e.spec.Source().String())
	end(err)
	if err != nil {
		e.fail(failure.New(failure.KindSimulation, "load account", err))
		return nil, false
	}
	tx := e.r.transaction(e.spec, acct)
	envelope, err := tx.Envelope()
	if err != nil {
		e.fail(failure.New(failure.KindValidation, "encode", err))
		return nil, false
	}

	ctx, end = e.r.step(e.ctx, "simulate")
	sim, err := e.r.chain.SimulateTransaction(ctx, envelope)
	if err == nil && sim.Failed() {
		err = simulationFailure(sim.Error)
	}
	end(err)
	if err != nil {
		e.fail(asKind(err, failure.KindSimulation, "simulate"))
		return nil, false
	}
	if err := assemble(tx, sim); err != nil {
		e.fail(failure.New(failure.KindSimulation, "assemble", err))
		return nil, false
	}
	if !e.move(StateSimulated) {
		return nil, false
	}
	return tx, true
}

// sign checks the wallet network and account on both sides of the signature
// request and verifies the wallet signed exactly the prepared transaction.
func (e *execution) sign(tx *xdr.Transaction) (string, bool) {
	passphrase := e.spec.NetworkPassphrase()
	if err := e.ensureWallet(passphrase); err != nil {
		e.fail(err)
		return "", false
	}
	envelope, err := tx.Envelope()
	if err != nil {
		e.fail(failure.New(failure.KindValidation, "encode", err))
		return "", false
	}

	ctx, end := e.r.step(e.ctx, "sign")
	signed, err := e.session.Sign(ctx, envelope, passphrase)
	if err == nil {
		if verr := tx.VerifySignedEnvelope(signed, passphrase); verr != nil {
			err = failure.New(failure.KindSigning, "verify signature", verr)
		}
	}
	end(err)
	if err != nil {
		e.fail(asKind(err, failure.KindSigning, "sign"))
		return "", false
	}
	if !e.move(StateSigned) {
		return "", false
	}
	if err := e.ensureWallet(passphrase); err != nil {
		e.fail(err)
		return "", false
	}
	return signed, true
}

// ensureWallet requires the wallet to still be on passphrase and to still
// hold the call's source account. The watcher may switch either mid-call.
func (e *execution) ensureWallet(passphrase string) error {
	if err := e.session.EnsureNetwork(e.ctx, passphrase); err != nil {
		return err
	}
	if e.session.Snapshot().Address != e.spec.Source().String() {
		return failure.New(failure.KindValidation, "sign", ErrSourceMismatch)
	}
	return nil
}

func (e *execution) submit(tx *xdr.Transaction, signed string) bool {
	hash, err := tx.HashHex(e.spec.NetworkPassphrase())
	if err != nil {
		e.fail(failure.New(failure.KindValidation, "hash", err))
		return false
	}
	e.res.Hash = hash

	ctx, end := e.r.step(e.ctx, "submit")
	sent, err := e.r.chain.SendTransaction(ctx, signed)
	end(err)
	if err != nil {
		if e.abandoned() {
			e.abandon()
			return false
		}
		if e.move(StateSubmitted) {
			e.res.Status = StatusSubmissionUnknown
			e.res.Err = failure.New(failure.KindSubmission, "submit", fmt.Errorf("%w: %s: %w", ErrOutcomeUnknown, hash, err))
		}
		return false
	}
	if sent.Hash != "" && !strings.EqualFold(sent.Hash, hash) {
		e.r.logger.Warn("relay reported a different transaction hash",
			slog.String("hash", hash), slog.String("relay_hash", sent.Hash))
	}
	switch sent.Status {
	case chain.SendPending, chain.SendDuplicate:
		return e.move(StateSubmitted)
	case chain.SendTryAgainLater:
		e.fail(failure.Newf(failure.KindRejected, "submit", "relay is congested, nothing was applied"))
		return false
	case chain.SendError:
		e.res.ErrorResultXDR = sent.ErrorResultXDR
		e.fail(failure.Newf(failure.KindRejected, "submit", "relay rejected transaction: %s", resultReason(sent.ErrorResultXDR)))
		return false
	default:
		if e.move(StateSubmitted) {
			e.res.Status = StatusSubmissionUnknown
			e.res.Err = failure.New(failure.KindSubmission, "submit",
				fmt.Errorf("%w: relay status %q", ErrOutcomeUnknown, sent.Status))
		}
		return false
	}
}

// await polls for the ledger outcome until it settles, the attempt budget or
// timeout runs out, or the session goes away.
func (e *execution) await() {
	timeout := time.NewTimer(e.r.cfg.ConfirmTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.r.cfg.PollInterval)
	defer ticker.Stop()

	attempts := 0
	defer func() { e.r.metrics.ObservePolls(attempts) }()
	for attempts < e.r.cfg.MaxAttempts {
		select {
		case <-e.ctx.Done():
			e.abandon()
			return
		case <-e.done:
			e.abandon()
			return
		case <-timeout.C:
			e.timeout(attempts)
			return
		case <-ticker.C:
		}
		attempts++

		ctx, end := e.r.step(e.ctx, "poll")
		info, err := e.r.chain.GetTransaction(ctx, e.res.Hash)
		end(err)
		if err != nil {
			if e.abandoned() {
				e.abandon()
				return
			}
			e.r.logger.Warn("transaction status unavailable",
				slog.String("hash", e.res.Hash), slog.Int("attempt", attempts), slog.Any("error", err))
			continue
		}
		switch info.Status {
		case chain.TxStatusSuccess:
			e.res.Ledger = info.Ledger
			e.res.RawMeta = info.ResultMetaXDR
			if e.move(StateConfirmed) {
				e.res.Status = StatusConfirmed
				e.res.Err = nil
			}
			return
		case chain.TxStatusFailed:
			e.res.Ledger = info.Ledger
			e.res.RawMeta = info.ResultMetaXDR
			e.fail(failure.Newf(failure.KindContract, "confirm", "transaction failed in ledger %d: %s",
				info.Ledger, resultReason(info.ResultXDR)))
			return
		default:
			if !e.move(StatePending) {
				return
			}
		}
	}
	e.timeout(attempts)
}

func (e *execution) timeout(attempts int) {
	e.res.Status = StatusConfirmationTimeout
	e.res.Err = failure.New(failure.KindConfirmationTimeout, "confirm",
		fmt.Errorf("%w: %s not settled after %d polls", ErrConfirmationTimeout, e.res.Hash, attempts))
}

func (e *execution) abandoned() bool {
	select {
	case <-e.done:
		return true
	default:
	}
	return e.ctx.Err() != nil
}

func (e *execution) abandon() {
	if e.res.Status == StatusAbandoned {
		return
	}
	e.res.Status = StatusAbandoned
	err := fmt.Errorf("%w in state %s", ErrAbandoned, e.res.State)
	if e.res.Hash != "" && e.res.State != StateSimulated && e.res.State != StateBuilt {
		err = fmt.Errorf("%w: %s may still be applied", err, e.res.Hash)
	}
	e.res.Err = failure.New(failure.KindAbandoned, "execute", err)
}

// move records a transition. It returns false, emitting nothing, once the
// session has closed or the caller gave up.
func (e *execution) move(to State) bool {
	if e.abandoned() {
		e.abandon()
		return false
	}
	from := e.res.State
	if !CanTransition(from, to) {
		e.res.Status = StatusFailed
		e.res.Err = failure.Newf(failure.KindUnknown, "transition", "illegal transition %s -> %s", from, to)
		return false
	}
	t := Transition{ID: e.res.ID, From: from, To: to, Hash: e.res.Hash, At: e.r.now().UTC()}
	e.res.State = to
	e.res.Transitions = append(e.res.Transitions, t)
	e.r.metrics.RecordTransition(string(to))
	for _, observe := range e.r.observers {
		observe(t)
	}
	e.r.logger.Debug("lifecycle transition",
		slog.String("id", t.ID), slog.String("state", string(to)), slog.String("hash", t.Hash))
	return true
}

func (e *execution) fail(err error) {
	if e.abandoned() {
		e.abandon()
		return
	}
	if e.move(StateFailed) {
		e.res.Status = StatusFailed
		e.res.Err = err
	}
}

func (r *Runner) view(ctx context.Context, spec contract.CallSpec) (xdr.ScVal, error) {
	if spec.IsZero() {
		return xdr.ScVal{}, failure.New(failure.KindValidation, "view", ErrEmptyCall)
	}
	if !spec.ReadOnly() {
		return xdr.ScVal{}, failure.New(failure.KindValidation, "view", ErrNotReadOnly)
	}
	acct, err := r.chain.LoadAccount(ctx, spec.Source().String())
	if err != nil {
		return xdr.ScVal{}, failure.New(failure.KindSimulation, "load account", err)
	}
	envelope, err := r.transaction(spec, acct).Envelope()
	if err != nil {
		return xdr.ScVal{}, failure.New(failure.KindValidation, "encode", err)
	}
	sim, err := r.chain.SimulateTransaction(ctx, envelope)
	if err != nil {
		return xdr.ScVal{}, failure.New(failure.KindSimulation, "simulate", err)
	}
	if sim.Failed() {
		return xdr.ScVal{}, simulationFailure(sim.Error)
	}
	val, err := sim.ReturnValue()
	if err != nil {
		return xdr.ScVal{}, failure.New(failure.KindSimulation, "simulate", err)
	}
	return val, nil
}

// assemble folds the simulation's resource data, authorizations and fee into tx.
func assemble(tx *xdr.Transaction, sim *chain.SimulateResult) error {
	if strings.TrimSpace(sim.TransactionData) == "" {
		return fmt.Errorf("lifecycle: simulation returned no resource data")
	}
	data, err := xdr.DecodeSorobanData(sim.TransactionData)
	if err != nil {
		return err
	}
	auth, err := xdr.DecodeAuthEntries(sim.AuthEntries())
	if err != nil {
		return err
	}
	resourceFee, err := sim.ResourceFee()
	if err != nil {
		return err
	}
	if total := uint64(tx.Fee) + uint64(resourceFee); total > math.MaxUint32 {
		return fmt.Errorf("lifecycle: fee %d exceeds limit", total)
	}
	data.ResourceFee = stellarxdr.Int64(resourceFee)
	tx.SorobanData = data
	tx.Auth = auth
	return nil
}

var contractErrorPattern = regexp.MustCompile(`Error\(Contract, #(\d+)\)`)

// SimulationError carries the diagnostic of a failed simulation. ContractCode
// is the hub error code when the failure came from the contract itself.
type SimulationError struct {
	ContractCode uint32
	Message      string
}

func (e *SimulationError) Error() string {
	if e.ContractCode != 0 {
		return fmt.Sprintf("contract error %d (%s)", e.ContractCode, contract.ErrorReason(e.ContractCode))
	}
	return e.Message
}

func (e *SimulationError) Unwrap() error {
	return ErrSimulationFailed
}

func simulationFailure(msg string) error {
	msg = strings.TrimSpace(msg)
	if line, _, ok := strings.Cut(msg, "\n"); ok {
		msg = line
	}
	simErr := &SimulationError{Message: msg}
	if m := contractErrorPattern.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			simErr.ContractCode = uint32(code)
		}
	}
	return failure.New(failure.KindSimulation, "simulate", simErr)
}

func resultReason(encoded string) string {
	if strings.TrimSpace(encoded) == "" {
		return "no result"
	}
	summary, err := xdr.ParseResultSummary(encoded)
	if err != nil {
		return "unreadable result"
	}
	return summary.Code.String()
}

func asKind(err error, kind failure.Kind, op string) error {
	if failure.KindOf(err) != failure.KindUnknown {
		return err
	}
	return failure.New(kind, op, err)
}
