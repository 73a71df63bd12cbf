package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"defihub/assets"
	"defihub/failure"
	"defihub/journal"
	"defihub/protocol"
)

const requestLimit = 1 << 20 // 1 MiB

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	body := map[string]string{"error": message}
	if kind := failure.KindOf(err); kind != failure.KindUnknown {
		body["kind"] = string(kind)
	}
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

// writeHubError maps domain failures onto HTTP status codes.
func writeHubError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, assets.ErrUnknownAsset), errors.Is(err, protocol.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindExtension:
		return http.StatusUnauthorized
	case failure.KindNetworkMismatch:
		return http.StatusConflict
	case failure.KindSimulation, failure.KindRejected, failure.KindContract:
		return http.StatusUnprocessableEntity
	case failure.KindConfirmationTimeout, failure.KindSubmission, failure.KindAbandoned:
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
