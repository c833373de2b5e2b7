// Package events streams orchestrator activity to dashboard clients
// over websockets.
package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archibridge/archibridge/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Source is the event feed the hub fans out. Cancel must be safe to
// call more than once.
type Source interface {
	Subscribe() (<-chan models.Event, func())
}

// Hub upgrades dashboard connections and forwards events to them. Each
// connection gets its own subscription, so a slow client only loses its
// own events.
type Hub struct {
	source Source
	logger *slog.Logger
}

func NewHub(source Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{source: source, logger: logger}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.source.Subscribe()
	defer cancel()

	h.logger.Debug("event stream connected", "remote", r.RemoteAddr)

	// The read loop discards client frames but keeps close and ping
	// handling alive; its exit tells the write loop the client is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("event stream closed", "remote", r.RemoteAddr)
			return

		case event, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
				conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("event write failed", "remote", r.RemoteAddr, "error", err)
				}
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
