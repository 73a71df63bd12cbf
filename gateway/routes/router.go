// Package routes mounts the defihub HTTP API.
package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gatewayconfig "defihub/gateway/config"
	"defihub/gateway/middleware"
	"defihub/gateway/signing"
	"defihub/hub"
)

var errPricesUnavailable = errors.New("price oracle not configured")

type Config struct {
	Gateway gatewayconfig.Config
	Hub     *hub.Hub
	Prices  PriceReader
	// Status is usually the hub itself; nil hides ledger status.
	Status        StatusReader
	Journal       JournalReader
	Authenticator *middleware.Authenticator
	// Signer lets partners sign scoped requests instead of sending a bearer token.
	Signer        *signing.Verifier
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Hub == nil {
		return nil, errors.New("routes: hub is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hr := &hubRoutes{hub: cfg.Hub, prices: cfg.Prices, timeout: cfg.Gateway.RequestTimeout}
	tr := &transactionsRoutes{status: cfg.Status, journal: cfg.Journal, parent: hr}
	sr := &streamRoutes{
		parent:   hr,
		interval: cfg.Gateway.StreamInterval,
		origins:  cfg.Gateway.CORS.AllowedOrigins,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.Gateway.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gateway.Observability.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	group := func(parent chi.Router, route string, scopes []middleware.Scope, mount func(chi.Router)) {
		parent.Group(func(gr chi.Router) {
			if cfg.Observability != nil {
				gr.Use(cfg.Observability.Middleware(route))
			}
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(route))
			}
			var bearer func(http.Handler) http.Handler
			if cfg.Authenticator != nil {
				bearer = cfg.Authenticator.Middleware(scopes...)
			}
			switch {
			case cfg.Signer != nil && len(scopes) > 0:
				gr.Use(cfg.Signer.Middleware(bearer))
			case bearer != nil:
				gr.Use(bearer)
			}
			mount(gr)
		})
	}

	r.Route("/v1", func(v1 chi.Router) {
		group(v1, "/v1/market", nil, func(gr chi.Router) {
			gr.Get("/assets", hr.listAssets)
			gr.Get("/prices/{symbol}", hr.getPrice)
			gr.Post("/quote", hr.quote)
			gr.Post("/health-factor", hr.healthFactor)
		})
		group(v1, "/v1/calls", []middleware.Scope{middleware.ScopeCalls}, func(gr chi.Router) {
			gr.Post("/calls", hr.previewCall)
		})
		group(v1, "/v1/accounts", []middleware.Scope{middleware.ScopeRead}, func(gr chi.Router) {
			gr.Get("/positions/{account}", hr.position)
			tr.mount(gr)
		})
		group(v1, "/v1/stream", nil, func(gr chi.Router) {
			gr.Get("/stream", sr.handle)
		})
	})
	return r, nil
}
