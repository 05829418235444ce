package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nodedash/service/metrics"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is served with Access-Control-Allow-Origin: *, so the socket is too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and pushes every hub event to it as
// a JSON frame: {"type":"TRANSACTION","transaction":{...}} or
// {"type":"COMMAND","command":{...}}. Client frames are read and discarded.
// GET /ws
func handleWebSocket(hub *Hub, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an HTTP error response.
			logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := hub.Subscribe("ws")
		defer sub.Close()

		logger.DebugContext(r.Context(), "websocket client connected", "remote_addr", r.RemoteAddr)

		// Reader: handles pongs and notices when the client goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(maxRequestBodySize)
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					// Hub closed: server is shutting down.
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					logger.DebugContext(r.Context(), "websocket write failed", "error", err)
					return
				}
				if m != nil {
					m.RecordStreamEventSent("ws", msg.Type)
				}

			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}

			case <-gone:
				logger.DebugContext(r.Context(), "websocket client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
