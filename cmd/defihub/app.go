package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"defihub/assets"
	"defihub/chain"
	"defihub/config"
	"defihub/contract"
	"defihub/hub"
	"defihub/journal"
	"defihub/lifecycle"
	"defihub/observability"
	"defihub/observability/logging"
	telemetry "defihub/observability/otel"
	"defihub/oracle"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *assets.Registry
	builder  *contract.Builder
	runner   *lifecycle.Runner
	journal  *journal.Journal
	oracle   *oracle.Manager
	hub      *hub.Hub
	shutdown func(context.Context) error
}

// newApp wires every component from cfg. Quiet apps only log errors so
// command output on stdout stays machine readable.
func newApp(ctx context.Context, cfg config.Config, quiet bool) (*app, error) {
	a := &app{cfg: cfg}
	logOpts := cfg.Telemetry.LoggingOptions()
	if quiet && !strings.EqualFold(logOpts.Level, "debug") {
		logOpts.Level = "error"
	}
	a.logger = logging.SetupWithOptions(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, logOpts)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTel(version))
	if err != nil {
		return nil, fmt.Errorf("initialise telemetry: %w", err)
	}
	a.shutdown = shutdown

	if strings.TrimSpace(cfg.Assets.File) != "" {
		a.registry, err = assets.Load(cfg.Assets.File)
	} else {
		a.registry, err = assets.Default()
	}
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	a.builder, err = contract.NewBuilder(a.registry, cfg.Contract.HubID, contract.WithDeadlineWindow(cfg.Contract.DeadlineWindow))
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	client, err := chain.NewClient(cfg.Network.RPCURL, cfg.Network.HorizonURL,
		chain.WithRateLimit(cfg.Network.RequestsPerSec, cfg.Network.Burst),
		chain.WithMetrics(observability.Chain()))
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	runnerOpts := []lifecycle.Option{
		lifecycle.WithLogger(a.logger),
		lifecycle.WithMetrics(observability.Lifecycle()),
		lifecycle.WithTracer(otel.Tracer("defihub/lifecycle")),
	}
	if path := strings.TrimSpace(cfg.Journal.Path); path != "" {
		dsn, err := journal.FileDSN(path)
		if err != nil {
			return nil, a.fail(ctx, err)
		}
		a.journal, err = journal.Open(dsn)
		if err != nil {
			return nil, a.fail(ctx, err)
		}
		runnerOpts = append(runnerOpts, lifecycle.WithRecorder(a.journal))
	}
	a.runner, err = lifecycle.NewRunner(client, lifecycle.Config{
		BaseFee:        cfg.Lifecycle.BaseFee,
		TxTimeout:      cfg.Lifecycle.TxTimeout,
		PollInterval:   cfg.Lifecycle.PollInterval,
		MaxAttempts:    cfg.Lifecycle.MaxAttempts,
		ConfirmTimeout: cfg.Lifecycle.ConfirmTimeout,
	}, runnerOpts...)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	source, err := a.priceSource()
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	oracleOpts := []oracle.Option{
		oracle.WithLogger(a.logger),
		oracle.WithMinFeeds(cfg.Oracle.MinFeeds),
		oracle.WithMetrics(observability.Oracle()),
	}
	if a.journal != nil {
		oracleOpts = append(oracleOpts, oracle.WithRecorder(a.journal))
	}
	cache := oracle.NewCache(cfg.Oracle.MaxAge, oracle.WithCacheMetrics(observability.Oracle()))
	a.oracle, err = oracle.New(cache, []oracle.Source{source}, a.registry.Symbols(), cfg.Oracle.RefreshInterval, oracleOpts...)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	minHealth := decimal.Zero
	if raw := strings.TrimSpace(cfg.Protocol.MinHealthFactor); raw != "" {
		minHealth, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, a.fail(ctx, fmt.Errorf("protocol.minHealthFactor: %w", err))
		}
	}
	hubOpts := []hub.Option{hub.WithLogger(a.logger)}
	if a.journal != nil {
		hubOpts = append(hubOpts, hub.WithResolver(a.journal))
	}
	a.hub, err = hub.New(a.builder, a.oracle, a.runner, hub.Config{
		NetworkPassphrase:       cfg.Network.Passphrase,
		FeeBps:                  cfg.Protocol.FeeBps,
		SlippageBps:             &cfg.Protocol.SlippageBps,
		LiquidationThresholdBps: cfg.Protocol.LiquidationThresholdBps,
		MinHealth:               minHealth,
		StakingDecimals:         cfg.Protocol.StakingDecimals,
	}, hubOpts...)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	return a, nil
}

func (a *app) priceSource() (oracle.Source, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.Oracle.Source)) {
	case "static":
		return oracle.NewStaticSource("static", a.cfg.Oracle.Static)
	default:
		caller := strings.TrimSpace(a.cfg.Oracle.Caller)
		if caller == "" {
			return nil, errors.New("oracle.caller is required to read contract prices")
		}
		return oracle.NewContractSource(a.builder, a.runner, contract.Source{
			Address:           caller,
			NetworkPassphrase: a.cfg.Network.Passphrase,
		})
	}
}

func (a *app) fail(ctx context.Context, err error) error {
	if closeErr := a.Close(ctx); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

// Close flushes telemetry and closes the journal.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
		a.shutdown = nil
	}
	return errors.Join(errs...)
}
