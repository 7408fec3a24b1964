package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/artpar/speechquota/adapters/metrics"
	"github.com/artpar/speechquota/app"
	"github.com/artpar/speechquota/domain/wait"
	"github.com/artpar/speechquota/pkg/jsonapi"
	"github.com/artpar/speechquota/ports"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// maxClientMessage bounds frames read from the client, which only sends close.
	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers authenticate through the account header set by the auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is one frame of the wait stream.
type StreamMessage struct {
	Type      string        `json:"type"` // "wait" while counting, "done" on the final frame
	SessionID string        `json:"session_id"`
	Wait      wait.Snapshot `json:"wait"`
}

// WaitStreamHandler pushes the caller's wait snapshot once per second over a
// websocket until the account is idle.
type WaitStreamHandler struct {
	waits   *app.WaitRegistry
	clock   ports.Clock
	ids     ports.IDGenerator
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewWaitStreamHandler creates a wait stream handler. m may be nil.
func NewWaitStreamHandler(waits *app.WaitRegistry, clock ports.Clock, ids ports.IDGenerator, m *metrics.Collector, logger zerolog.Logger) *WaitStreamHandler {
	return &WaitStreamHandler{waits: waits, clock: clock, ids: ids, metrics: m, logger: logger}
}

// ServeHTTP upgrades the connection and streams snapshots.
func (h *WaitStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID := r.Header.Get(AccountHeader)
	if accountID == "" {
		jsonapi.WriteError(w, jsonapi.ErrMissingAccount(AccountHeader))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("account_id", accountID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := h.ids.New()
	log := h.logger.With().Str("account_id", accountID).Str("session_id", sessionID).Logger()

	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
		defer h.metrics.StreamClients.Dec()
	}

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := h.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Debug().Msg("wait stream opened")
	for {
		snap := h.waits.Snapshot(accountID)
		msg := StreamMessage{Type: "wait", SessionID: sessionID, Wait: snap}
		if !snap.IsWaiting {
			msg.Type = "done"
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("wait stream write failed")
			return
		}

		if !snap.IsWaiting {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle"))
			log.Debug().Msg("wait stream finished")
			return
		}

		select {
		case <-closed:
			log.Debug().Msg("wait stream closed by client")
			return
		case <-ticker.C():
		}
	}
}

// readPump drains client frames so control messages are processed, and
// signals when the client goes away.
func (h *WaitStreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
