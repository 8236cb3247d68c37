package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"presence-service/internal/dto"
	"presence-service/internal/live"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// MessageTypeSummary tags summary frames on the live stream
const MessageTypeSummary = "PRESENCE_SUMMARY"

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// LiveSubscriber opens live summary subscriptions
type LiveSubscriber interface {
	Subscribe(ctx context.Context, organizationID uuid.UUID) (*live.Subscription, error)
}

// WSMessage is one frame on the live presence stream
type WSMessage struct {
	Type string               `json:"type"`
	Data *dto.PresenceSummary `json:"data"`
}

type WSHandler struct {
	hub    LiveSubscriber
	logger *zap.Logger
}

func NewWSHandler(hub LiveSubscriber, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// StreamOrganizationPresence upgrades to a WebSocket and pushes the organization's
// summary now and after every change. The stream is server-to-client only.
func (h *WSHandler) StreamOrganizationPresence(c *gin.Context) {
	orgID, ok := parseUUIDParam(c, "organizationId")
	if !ok {
		return
	}

	sub, err := h.hub.Subscribe(c.Request.Context(), orgID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
}

// readPump discards client frames and detects disconnects via pong deadlines
func (h *WSHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, sub *live.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case summary, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(WSMessage{Type: MessageTypeSummary, Data: summary}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
