package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"defihub/chain"
	"defihub/contract"
	"defihub/observability"
	"defihub/wallet"
	"defihub/xdr"
)

const (
	DefaultBaseFee        uint32 = 100
	DefaultTxTimeout             = 60 * time.Second
	DefaultPollInterval          = 2 * time.Second
	DefaultMaxAttempts           = 30
	DefaultConfirmTimeout        = 90 * time.Second
)

var (
	ErrEmptyCall           = errors.New("lifecycle: call spec required")
	ErrReadOnly            = errors.New("lifecycle: read-only calls are simulated, not submitted")
	ErrNotReadOnly         = errors.New("lifecycle: call changes state and must be executed")
	ErrSourceMismatch      = errors.New("lifecycle: wallet account differs from call source")
	ErrSimulationFailed    = errors.New("lifecycle: simulation failed")
	ErrOutcomeUnknown      = errors.New("lifecycle: submission outcome unknown")
	ErrConfirmationTimeout = errors.New("lifecycle: confirmation timed out")
	ErrAbandoned           = errors.New("lifecycle: abandoned before completion")
)

// Chain is the ledger access the runner needs. *chain.Client implements it.
type Chain interface {
	LoadAccount(ctx context.Context, address string) (chain.Account, error)
	SimulateTransaction(ctx context.Context, envelope string) (*chain.SimulateResult, error)
	SendTransaction(ctx context.Context, signedEnvelope string) (*chain.SendResult, error)
	GetTransaction(ctx context.Context, hash string) (*chain.TransactionInfo, error)
}

// Signer is the wallet session surface the runner needs. *wallet.Session implements it.
type Signer interface {
	Snapshot() wallet.Snapshot
	EnsureNetwork(ctx context.Context, passphrase string) error
	Sign(ctx context.Context, envelope, passphrase string) (string, error)
	Done() <-chan struct{}
}

// Recorder persists finished results.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}

// Config bounds fees, validity and confirmation polling.
type Config struct {
	BaseFee        uint32
	TxTimeout      time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	ConfirmTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseFee == 0 {
		c.BaseFee = DefaultBaseFee
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	return c
}

// Result is the outcome of one Execute call.
type Result struct {
	ID             string        `json:"id"`
	Kind           contract.Kind `json:"kind"`
	Method         string        `json:"method"`
	Source         string        `json:"source"`
	Status         Status        `json:"status"`
	State          State         `json:"state"`
	Hash           string        `json:"hash,omitempty"`
	Ledger         uint32        `json:"ledger,omitempty"`
	RawMeta        string        `json:"resultMetaXdr,omitempty"`
	ErrorResultXDR string        `json:"errorResultXdr,omitempty"`
	Err            error         `json:"-"`
	Transitions    []Transition  `json:"transitions"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
}

// Error returns the failure message, or "" on success.
func (r *Result) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock injects the time source used for validity windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics overrides the metrics recorder. A nil recorder disables metrics.
func WithMetrics(m *observability.LifecycleMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRecorder persists every finished result.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithObserver registers a callback invoked synchronously on every transition.
func WithObserver(fn func(Transition)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// WithTracer overrides the tracer used for lifecycle spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Runner executes CallSpecs. It holds no per-call state and may be shared by
// concurrent callers.
type Runner struct {
	chain     Chain
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	metrics   *observability.LifecycleMetrics
	recorder  Recorder
	observers []func(Transition)
	tracer    trace.Tracer
}

// NewRunner constructs a runner over the supplied chain client.
func NewRunner(c Chain, cfg Config, opts ...Option) (*Runner, error) {
	if c == nil {
		return nil, fmt.Errorf("lifecycle: chain client required")
	}
	r := &Runner{
		chain:   c,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.Lifecycle(),
		tracer:  otel.Tracer("defihub/lifecycle"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Execute simulates, signs, submits and confirms spec. The returned Result is
// never nil; its Err matches the returned error. Execute never resubmits: an
// indeterminate outcome is reported and left to Status.
func (r *Runner) Execute(ctx context.Context, session Signer, spec contract.CallSpec) (*Result, error) {
	res := &Result{
		ID:        uuid.NewString(),
		Kind:      spec.Kind(),
		Method:    spec.Method(),
		State:     StateBuilt,
		StartedAt: r.now().UTC(),
	}
	if !spec.IsZero() {
		res.Source = spec.Source().String()
	}
	ctx, span := r.tracer.Start(ctx, "lifecycle.execute", trace.WithAttributes(
		attribute.String("lifecycle.id", res.ID),
		attribute.String("contract.method", res.Method),
	))
	defer span.End()

	e := &execution{r: r, session: session, spec: spec, res: res}
	if session == nil {
		e.done = make(chan struct{})
	} else {
		e.done = session.Done()
	}
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-runCtx.Done():
		}
	}()
	e.ctx = runCtx
	e.run()
	cancel()

	res.FinishedAt = r.now().UTC()
	span.SetAttributes(
		attribute.String("lifecycle.status", string(res.Status)),
		attribute.String("tx.hash", res.Hash),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	r.metrics.RecordOutcome(string(res.Kind), string(res.Status))
	r.logger.Info("lifecycle finished",
		slog.String("id", res.ID),
		slog.String("method", res.Method),
		slog.String("status", string(res.Status)),
		slog.String("state", string(res.State)),
		slog.String("hash", res.Hash),
		slog.Any("error", res.Err))
	if r.recorder != nil {
		if err := r.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			r.logger.Warn("lifecycle result not recorded", slog.String("id", res.ID), slog.Any("error", err))
		}
	}
	return res, res.Err
}

// TxStatus is the ledger view of a previously submitted transaction.
type TxStatus struct {
	Hash       string `json:"hash"`
	Found      bool   `json:"found"`
	State      State  `json:"state"`
	Ledger     uint32 `json:"ledger,omitempty"`
	ResultCode string `json:"resultCode,omitempty"`
	RawMeta    string `json:"resultMetaXdr,omitempty"`
}

// Status queries the ledger for hash. It is the out-of-band follow-up for
// ConfirmationTimeout and SubmissionUnknown results.
func (r *Runner) Status(ctx context.Context, hash string) (TxStatus, error) {
	ctx, span := r.tracer.Start(ctx, "lifecycle.status")
	defer span.End()
	info, err := r.chain.GetTransaction(ctx, hash)
	if err != nil {
		span.RecordError(err)
		return TxStatus{}, err
	}
	out := TxStatus{Hash: hash, Ledger: info.Ledger, RawMeta: info.ResultMetaXDR}
	switch info.Status {
	case chain.TxStatusSuccess:
		out.Found, out.State = true, StateConfirmed
	case chain.TxStatusFailed:
		out.Found, out.State = true, StateFailed
	default:
		out.State = StatePending
	}
	if info.ResultXDR != "" {
		if summary, err := xdr.ParseResultSummary(info.ResultXDR); err == nil {
			out.ResultCode = summary.Code.String()
		}
	}
	return out, nil
}

// View simulates a read-only call and returns its value. Nothing is signed.
func (r *Runner) View(ctx context.Context, spec contract.CallSpec) (xdr.ScVal, error) {
	ctx, span := r.tracer.Start(ctx, "lifecycle.view", trace.WithAttributes(
		attribute.String("contract.method", spec.Method()),
	))
	defer span.End()
	val, err := r.view(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return val, err
}

func (r *Runner) step(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "lifecycle."+name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.ObserveStep(name, time.Since(start))
	}
}

func (r *Runner) timeBounds(spec contract.CallSpec) *xdr.TimeBounds {
	maxTime := r.now().Add(r.cfg.TxTimeout)
	if deadline, ok := spec.Deadline(); ok && deadline.Before(maxTime) {
		maxTime = deadline
	}
	return &xdr.TimeBounds{MaxTime: uint64(maxTime.Unix())}
}

func (r *Runner) transaction(spec contract.CallSpec, acct chain.Account) *xdr.Transaction {
	return &xdr.Transaction{
		Source:     spec.Source(),
		Fee:        r.cfg.BaseFee,
		Sequence:   acct.NextSequence(),
		TimeBounds: r.timeBounds(spec),
		Invoke:     spec.Invocation(),
	}
}
