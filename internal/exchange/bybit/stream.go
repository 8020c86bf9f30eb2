package bybit

import (
	"context"
	"encoding/json"
	"strings"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/base"
	"copytrader/pkg/websocket"
)

// Bybit accepts at most 10 topics per subscribe request
const maxTopicsPerSubscribe = 10

// PriceCallback receives a last price from the ticker stream
type PriceCallback func(symbol string, price float64)

type tickerEvent struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// StartPriceStream subscribes to tickers.<SYMBOL> on the public linear stream.
// Deltas without a last price are ignored. The stream stops when ctx is done.
func StartPriceStream(ctx context.Context, wsURL string, symbols []string, callback PriceCallback, logger core.ILogger) *websocket.Client {
	if wsURL == "" {
		wsURL = config.PublicWSURL
	}
	b := base.NewBaseAdapter("bybit-stream", "", 0, 0, logger)

	onMessage := func(message []byte) {
		var event tickerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			b.Logger.Debug("Failed to unmarshal ticker message", "error", err)
			return
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			return
		}

		symbol := event.Data.Symbol
		if symbol == "" {
			symbol = strings.TrimPrefix(event.Topic, "tickers.")
		}
		if price := b.ParseFloat(event.Data.LastPrice); price > 0 {
			callback(symbol, price)
		}
	}

	onConnected := func(client *websocket.Client) {
		for _, args := range topicBatches(symbols) {
			sub := map[string]interface{}{
				"op":   "subscribe",
				"args": args,
			}
			if err := client.Send(sub); err != nil {
				b.Logger.Error("Failed to send subscription", "error", err)
				return
			}
		}
	}

	return b.StartWebSocketStream(ctx, wsURL, onMessage, onConnected, map[string]string{"op": "ping"}, "Bybit ticker")
}

func topicBatches(symbols []string) [][]string {
	var batches [][]string
	for start := 0; start < len(symbols); start += maxTopicsPerSubscribe {
		end := start + maxTopicsPerSubscribe
		if end > len(symbols) {
			end = len(symbols)
		}
		args := make([]string, 0, end-start)
		for _, s := range symbols[start:end] {
			args = append(args, "tickers."+s)
		}
		batches = append(batches, args)
	}
	return batches
}
