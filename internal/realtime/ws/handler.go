package ws

import (
	"net/http"
	"time"

	"github.com/civicmesh/presence/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests to websocket connections and feeds
// inbound frames to the session manager
type Handler struct {
	logger   *zap.Logger
	manager  *realtime.Manager
	upgrader websocket.Upgrader
}

// NewHandler creates a new websocket handler
func NewHandler(logger *zap.Logger, manager *realtime.Manager) *Handler {
	return &Handler{
		logger:  logger.Named("ws"),
		manager: manager,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients connect from the app origin; origin
				// policy is enforced at the edge.
				return true
			},
		},
	}
}

// Handle upgrades the request and runs the connection's read loop
func (h *Handler) Handle(c *gin.Context) {
	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(uuid.NewString(), wsConn)
	if err := h.manager.HandleConnect(conn); err != nil {
		h.logger.Error("failed to register connection",
			zap.String("connectionId", conn.ID()),
			zap.Error(err))
		_ = conn.Close()
		return
	}

	h.readLoop(conn, wsConn)
}

func (h *Handler) readLoop(conn *Conn, wsConn *websocket.Conn) {
	reason := "client_disconnect"
	defer func() {
		conn.markClosed()
		_ = wsConn.Close()
		h.manager.HandleDisconnect(conn.ID(), reason)
	}()

	for {
		var frame Frame
		if err := wsConn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "transport_error"
				h.logger.Debug("read failed",
					zap.String("connectionId", conn.ID()),
					zap.Error(err))
			}
			return
		}
		if frame.Event == "" {
			continue
		}
		h.manager.Dispatch(conn, frame.Event, frame.Data)
	}
}
