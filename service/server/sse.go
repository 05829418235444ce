package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nodedash/service/link"
	"github.com/brojonat/nodedash/service/metrics"
)

const sseKeepalive = 10 * time.Second

// handleStreamTransactions handles SSE streaming for applied transfers.
// If the address path parameter is empty, streams every transfer. Otherwise,
// streams transfers where the address is sender or recipient.
// GET /api/v1/stream/transactions[/{address}]
func handleStreamTransactions(hub *Hub, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		filterDesc := address
		if address == "" {
			filterDesc = "all nodes"
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		sub := hub.Subscribe("sse")
		defer sub.Close()

		logger.DebugContext(r.Context(), "SSE client connected",
			"filter", filterDesc,
			"remote_addr", r.RemoteAddr,
		)

		// Send initial connection event
		connected, _ := json.Marshal(map[string]string{"filter": filterDesc})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				// Send keepalive comment to prevent timeout
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg, ok := <-sub.C():
				if !ok {
					// Hub closed
					return
				}
				if msg.Type != link.TypeTransaction || msg.Transaction == nil {
					continue
				}
				txn := msg.Transaction
				if address != "" && txn.SenderAddress != address && txn.RecipientAddress != address {
					continue
				}

				data, err := json.Marshal(txn)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}

				fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", data)
				flush()
				if m != nil {
					m.RecordStreamEventSent("sse", msg.Type)
				}

				logger.DebugContext(r.Context(), "sent transaction event",
					"filter", filterDesc,
					"id", txn.ID,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"filter", filterDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
