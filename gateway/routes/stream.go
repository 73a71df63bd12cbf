package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

type priceFrame struct {
	Type        string                     `json:"type"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	Unavailable []string                   `json:"unavailable,omitempty"`
	At          int64                      `json:"at"`
}

type streamRoutes struct {
	parent   *hubRoutes
	interval time.Duration
	origins  []string
	logger   *slog.Logger
}

func (sr *streamRoutes) handle(w http.ResponseWriter, r *http.Request) {
	if sr.parent.prices == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errPricesUnavailable)
		return
	}
	origins := sr.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := sr.streamPrices(ctx, conn); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			sr.logger.Warn("price stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (sr *streamRoutes) streamPrices(ctx context.Context, conn *websocket.Conn) error {
	interval := sr.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sr.writeFrame(ctx, conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (sr *streamRoutes) writeFrame(ctx context.Context, conn *websocket.Conn) error {
	frame := priceFrame{Type: "prices", Prices: map[string]decimal.Decimal{}, At: time.Now().Unix()}
	for _, symbol := range sr.parent.hub.Registry().Symbols() {
		pctx, cancel := sr.parent.context(ctx)
		price, err := sr.parent.prices.Price(pctx, symbol)
		cancel()
		if err != nil {
			frame.Unavailable = append(frame.Unavailable, symbol)
			continue
		}
		frame.Prices[symbol] = price
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
