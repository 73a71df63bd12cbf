package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"defihub/assets"
	"defihub/contract"
	"defihub/crypto"
	"defihub/hub"
	"defihub/protocol"
)

// PriceReader serves aggregated oracle prices.
type PriceReader interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// hubRoutes exposes quoting, health evaluation and call previews.
type hubRoutes struct {
	hub     *hub.Hub
	prices  PriceReader
	timeout time.Duration
}

func (hr *hubRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := hr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

type assetView struct {
	assets.Descriptor
	Contract string `json:"contract"`
}

func (hr *hubRoutes) listAssets(w http.ResponseWriter, r *http.Request) {
	passphrase := hr.hub.Config().NetworkPassphrase
	all := hr.hub.Registry().All()
	out := make([]assetView, 0, len(all))
	for _, desc := range all {
		view := assetView{Descriptor: desc}
		if addr, err := desc.ContractAddress(passphrase); err == nil {
			view.Contract = addr.String()
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"network": crypto.NetworkName(passphrase),
		"assets":  out,
	})
}

func (hr *hubRoutes) getPrice(w http.ResponseWriter, r *http.Request) {
	if hr.prices == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("price oracle not configured"))
		return
	}
	desc, err := hr.hub.Registry().Get(chi.URLParam(r, "symbol"))
	if err != nil {
		writeHubError(w, err)
		return
	}
	ctx, cancel := hr.context(r.Context())
	defer cancel()

	price, err := hr.prices.Price(ctx, desc.Symbol)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": desc.Symbol, "price": price})
}

func (hr *hubRoutes) quote(w http.ResponseWriter, r *http.Request) {
	var req hub.QuoteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := hr.context(r.Context())
	defer cancel()

	q, err := hr.hub.Quote(ctx, req)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type healthResponse struct {
	HealthFactor       protocol.Health `json:"healthFactor"`
	Liquidatable       bool            `json:"liquidatable"`
	BelowMinimum       bool            `json:"belowMinimum"`
	Collateral         decimal.Decimal `json:"collateralValue"`
	WeightedCollateral decimal.Decimal `json:"weightedCollateral"`
	Debt               decimal.Decimal `json:"debtValue"`
	BorrowCapacity     decimal.Decimal `json:"borrowCapacity"`
}

func (hr *hubRoutes) healthFactor(w http.ResponseWriter, r *http.Request) {
	var req hub.HealthInput
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := hr.context(r.Context())
	defer cancel()

	health, val, err := hr.hub.HealthFactor(ctx, req)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		HealthFactor:       health,
		Liquidatable:       health.Liquidatable(),
		BelowMinimum:       health.Below(hr.hub.Config().MinHealth),
		Collateral:         val.Collateral,
		WeightedCollateral: val.WeightedCollateral,
		Debt:               val.Debt,
		BorrowCapacity:     val.BorrowCapacity(),
	})
}

// callRequest describes an intent to preview. Swap fields are From, To and
// Amount; pool fields are Asset and Amount; staking uses Amount only.
type callRequest struct {
	Kind        contract.Kind `json:"kind"`
	Source      string        `json:"source"`
	Asset       string        `json:"asset,omitempty"`
	Amount      string        `json:"amount"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	SlippageBps *uint32       `json:"slippageBps,omitempty"`
}

type callResponse struct {
	Call  contract.Summary `json:"call"`
	Quote *hub.SwapQuote   `json:"quote,omitempty"`
}

func (hr *hubRoutes) previewCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	src := contract.Source{
		Address:           strings.TrimSpace(req.Source),
		NetworkPassphrase: hr.hub.Config().NetworkPassphrase,
	}
	if src.Address == "" {
		writeBadRequest(w, errors.New("source account is required"))
		return
	}
	kind := contract.Kind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	if kind == contract.KindSwap {
		ctx, cancel := hr.context(r.Context())
		defer cancel()
		q, spec, err := hr.hub.PlanSwap(ctx, hub.QuoteRequest{
			From:        req.From,
			To:          req.To,
			Amount:      req.Amount,
			SlippageBps: req.SlippageBps,
		}, src)
		if err != nil {
			writeHubError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, callResponse{Call: spec.Summary(), Quote: &q})
		return
	}
	spec, err := hr.hub.Build(kind, hub.AmountRequest{Asset: req.Asset, Amount: req.Amount}, src)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Call: spec.Summary()})
}

func (hr *hubRoutes) position(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	if _, err := crypto.DecodeAccount(account); err != nil {
		writeBadRequest(w, fmt.Errorf("account: %w", err))
		return
	}
	ctx, cancel := hr.context(r.Context())
	defer cancel()

	report, err := hr.hub.Position(ctx, contract.Source{
		Address:           account,
		NetworkPassphrase: hr.hub.Config().NetworkPassphrase,
	})
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
