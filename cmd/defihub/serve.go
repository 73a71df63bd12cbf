package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	gatewayconfig "defihub/gateway/config"
	"defihub/gateway/middleware"
	"defihub/gateway/routes"
	"defihub/gateway/signing"
	"defihub/journal"
	"defihub/lifecycle"
)

const reconcileInterval = time.Minute

func runServe(args []string, cfg configLoader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "", "override gateway listen address")
	allowInsecure := fs.Bool("allow-insecure", false, "DEV ONLY: permit plaintext listeners off loopback")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	conf, err := cfg()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *listen != "" {
		conf.Gateway.ListenAddress = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, conf, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(shutdownCtx)
	}()

	if err := serve(ctx, a, *allowInsecure); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("gateway stopped", slog.Any("error", err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, a *app, allowInsecure bool) error {
	gw := a.cfg.Gateway
	tlsConfig, err := buildTLSConfig(gw.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil && !allowInsecure &&
		!strings.EqualFold(a.cfg.Telemetry.Environment, "dev") && !isLoopbackAddress(gw.ListenAddress) {
		return errors.New("plaintext gateway mode is restricted to loopback listeners or the dev environment")
	}

	rc := routes.Config{
		Gateway:       gw,
		Hub:           a.hub,
		Prices:        a.oracle,
		Status:        a.hub,
		Authenticator: middleware.NewAuthenticator(gw.Auth, a.logger),
		RateLimiter:   middleware.NewRateLimiter(gw, a.logger),
		Observability: middleware.NewObservability(gw.Observability, a.logger),
		Logger:        a.logger,
	}
	if a.journal != nil {
		rc.Journal = a.journal
	}
	if gw.Signing.Enabled() {
		signer, closeNonces, err := newSigner(ctx, gw.Signing, a.logger)
		if err != nil {
			return err
		}
		defer closeNonces()
		rc.Signer = signer
	}
	router, err := routes.New(rc)
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	server := &http.Server{
		Addr:         gw.ListenAddress,
		Handler:      otelhttp.NewHandler(router, gw.Observability.ServiceName),
		ReadTimeout:  gw.ReadTimeout,
		WriteTimeout: gw.WriteTimeout,
		IdleTimeout:  gw.IdleTimeout,
		TLSConfig:    tlsConfig,
	}
	listener, err := net.Listen("tcp", gw.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		a.logger.Info("gateway listening", slog.String("address", scheme+"://"+listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.oracle.Run(gctx)
	})
	if a.journal != nil {
		g.Go(func() error {
			return reconcileLoop(gctx, a)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed", slog.Any("error", err))
		}
		return gctx.Err()
	})
	return g.Wait()
}

// newSigner builds the partner request verifier, backed by a LevelDB nonce
// log when signing.nonceStore is set.
func newSigner(ctx context.Context, cfg gatewayconfig.SigningConfig, logger *slog.Logger) (*signing.Verifier, func(), error) {
	opts := []signing.Option{signing.WithLogger(logger)}
	closeFn := func() {}
	if path := strings.TrimSpace(cfg.NonceStore); path != "" {
		store, err := signing.OpenLevelDB(path)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() {
			if err := store.Close(); err != nil {
				logger.Warn("close nonce store", slog.Any("error", err))
			}
		}
		opts = append(opts, signing.WithNonceLog(store))
	}
	signer, err := signing.New(cfg, opts...)
	if err == nil {
		err = signer.Warm(ctx)
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return signer, closeFn, nil
}

// reconcileLoop periodically asks the ledger about journal entries whose
// outcome was never observed.
func reconcileLoop(ctx context.Context, a *app) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		if _, err := reconcile(ctx, a.hub, a.journal); err != nil && ctx.Err() == nil {
			a.logger.Warn("journal reconciliation failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type statusChecker interface {
	Status(ctx context.Context, hash string) (lifecycle.TxStatus, error)
}

type journalSource interface {
	Unresolved(ctx context.Context) ([]journal.Entry, error)
}

// reconcile queries the status of every unresolved entry. The hub records
// terminal outcomes in the journal. It returns how many entries became final.
func reconcile(ctx context.Context, h statusChecker, j journalSource) (int, error) {
	entries, err := j.Unresolved(ctx)
	if err != nil {
		return 0, err
	}
	resolved := 0
	var errs []error
	for _, entry := range entries {
		status, err := h.Status(ctx, entry.Hash)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Hash, err))
			continue
		}
		if status.State.Terminal() {
			resolved++
		}
	}
	return resolved, errors.Join(errs...)
}

func buildTLSConfig(sec gatewayconfig.SecurityConfig) (*tls.Config, error) {
	certPath := strings.TrimSpace(sec.TLSCertFile)
	keyPath := strings.TrimSpace(sec.TLSKeyFile)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
