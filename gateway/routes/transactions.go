package routes

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"defihub/journal"
	"defihub/lifecycle"
)

// StatusReader queries ledger outcomes by transaction hash.
type StatusReader interface {
	Status(ctx context.Context, hash string) (lifecycle.TxStatus, error)
}

// JournalReader serves recorded lifecycle results.
type JournalReader interface {
	ByHash(ctx context.Context, hash string) (journal.Entry, error)
	List(ctx context.Context, source string, limit int) ([]journal.Entry, error)
}

type transactionsRoutes struct {
	status  StatusReader
	journal JournalReader
	parent  *hubRoutes
}

func (tr *transactionsRoutes) mount(r chi.Router) {
	r.Get("/transactions/{hash}", tr.get)
	r.Get("/journal", tr.list)
}

type transactionResponse struct {
	Status *lifecycle.TxStatus `json:"status,omitempty"`
	Entry  *journal.Entry      `json:"journal,omitempty"`
}

func (tr *transactionsRoutes) get(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "hash")))
	if raw, err := hex.DecodeString(hash); err != nil || len(raw) != 32 {
		writeBadRequest(w, errors.New("hash must be 64 hex characters"))
		return
	}
	ctx, cancel := tr.parent.context(r.Context())
	defer cancel()

	var out transactionResponse
	if tr.status != nil {
		status, err := tr.status.Status(ctx, hash)
		if err != nil {
			writeHubError(w, err)
			return
		}
		out.Status = &status
	}
	if tr.journal != nil {
		entry, err := tr.journal.ByHash(ctx, hash)
		switch {
		case err == nil:
			out.Entry = &entry
		case !errors.Is(err, journal.ErrNotFound):
			writeHubError(w, err)
			return
		}
	}
	if out.Status == nil && out.Entry == nil {
		writeJSONError(w, http.StatusNotFound, journal.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (tr *transactionsRoutes) list(w http.ResponseWriter, r *http.Request) {
	if tr.journal == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("journal not configured"))
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := tr.journal.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("source")), limit)
	if err != nil {
		writeHubError(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
