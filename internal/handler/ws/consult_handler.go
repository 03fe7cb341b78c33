package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/middleware"
	"healthbridge-backend/internal/service/messaging"
	"healthbridge-backend/internal/service/registry"
	"healthbridge-backend/pkg/constants"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = constants.WebSocketPingInterval
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	clientSendSize = 64
)

// ConnectionTracker records live connections so other instances can tell
// whether a participant is reachable over a socket
type ConnectionTracker interface {
	SetConnected(ctx context.Context, sessionID, userID uuid.UUID) error
	Refresh(ctx context.Context, sessionID, userID uuid.UUID) error
	SetDisconnected(ctx context.Context, sessionID, userID uuid.UUID) error
}

// ConsultHub upgrades consultation sockets and bridges session events to
// them. Each connection holds its own channel subscriptions; the broker
// refcounts the underlying transport streams.
type ConsultHub struct {
	registryService  *registry.Service
	messagingService *messaging.Service
	broker           *channel.Broker
	connections      ConnectionTracker
	wsMetrics        *metrics.Metrics
}

// NewConsultHub creates a new consultation WebSocket hub
func NewConsultHub(
	registryService *registry.Service,
	messagingService *messaging.Service,
	broker *channel.Broker,
	connections ConnectionTracker,
	wsMetrics *metrics.Metrics,
) *ConsultHub {
	return &ConsultHub{
		registryService:  registryService,
		messagingService: messagingService,
		broker:           broker,
		connections:      connections,
		wsMetrics:        wsMetrics,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the edge proxy
	},
}

// inboundFrame is what clients may send over the socket
type inboundFrame struct {
	Type      string    `json:"type"` // read
	MessageID uuid.UUID `json:"message_id,omitempty"`
}

// outboundFrame wraps a session event for the socket
type outboundFrame struct {
	Type       string               `json:"type"`
	Message    *domain.Message      `json:"message,omitempty"`
	State      *domain.SessionState `json:"state,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

type client struct {
	hub     *ConsultHub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	caller  domain.Caller
	session *domain.Session
}

// ServeWS upgrades the request and binds the socket to a session
// GET /v1/ws?session_id=uuid
func (h *ConsultHub) ServeWS(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}

	session, _, err := h.registryService.GetSession(c.Request.Context(), caller.UserID, sessionID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		h.wsMetrics.RecordWebSocketError("upgrade_failed")
		return
	}

	cl := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientSendSize),
		done:    make(chan struct{}),
		caller:  caller,
		session: session,
	}

	msgSub, err := h.broker.Subscribe(channel.MessageTopic(session.ChannelName), cl.onEvent)
	if err != nil {
		logger.Error("message topic subscribe failed", zap.Error(err))
		conn.Close()
		return
	}
	presenceSub, err := h.broker.Subscribe(channel.PresenceTopic(session.ChannelName), cl.onEvent)
	if err != nil {
		logger.Error("presence topic subscribe failed", zap.Error(err))
		msgSub.Unsubscribe()
		conn.Close()
		return
	}

	if err := h.connections.SetConnected(c.Request.Context(), session.SessionID, caller.UserID); err != nil {
		logger.Warn("presence mark failed", zap.Error(err))
	}
	h.wsMetrics.IncrementWebSocketConnections()

	go cl.writePump()
	go cl.readPump(msgSub, presenceSub)
}

// onEvent runs on the subscription's dispatch goroutine. Events for this
// client's own messages skip the delivered hook; everything else is
// framed and queued for the write pump.
func (cl *client) onEvent(ev channel.Event) {
	frame := outboundFrame{
		Type:       string(ev.Kind),
		Message:    ev.Message,
		State:      ev.State,
		OccurredAt: ev.OccurredAt,
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("frame marshal failed", zap.Error(err))
		return
	}

	select {
	case cl.send <- payload:
		cl.hub.wsMetrics.RecordWebSocketMessage(string(ev.Kind), "outbound")
	default:
		cl.hub.wsMetrics.RecordWebSocketError("send_buffer_full")
		return
	}

	// A message from the counterpart reaching this socket counts as
	// delivered; acknowledge asynchronously off the dispatch goroutine
	if ev.Kind == channel.EventMessageInsert && ev.Message != nil && ev.Message.SenderID != cl.caller.UserID {
		go cl.ackDelivered(ev.Message.MessageID)
	}
}

func (cl *client) ackDelivered(messageID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	_, err := cl.hub.messagingService.MarkDelivered(ctx, cl.caller.UserID, cl.session.SessionID, messageID)
	if err != nil {
		logger.Warn("delivered ack failed",
			zap.String("message_id", messageID.String()), zap.Error(err))
	}
}

func (cl *client) readPump(subs ...*channel.Subscription) {
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		close(cl.done)
		cl.conn.Close()
		cl.hub.wsMetrics.DecrementWebSocketConnections()

		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if err := cl.hub.connections.SetDisconnected(ctx, cl.session.SessionID, cl.caller.UserID); err != nil {
			logger.Warn("presence clear failed", zap.Error(err))
		}
	}()

	cl.conn.SetReadLimit(maxFrameSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if err := cl.hub.connections.Refresh(ctx, cl.session.SessionID, cl.caller.UserID); err != nil {
			logger.Warn("presence refresh failed", zap.Error(err))
		}
		return nil
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
				cl.hub.wsMetrics.RecordWebSocketError("read_error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cl.hub.wsMetrics.RecordWebSocketError("invalid_frame")
			continue
		}
		cl.hub.wsMetrics.RecordWebSocketMessage(frame.Type, "inbound")
		cl.handleFrame(&frame)
	}
}

func (cl *client) handleFrame(frame *inboundFrame) {
	switch frame.Type {
	case "read":
		if frame.MessageID == uuid.Nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()

		_, err := cl.hub.messagingService.MarkRead(ctx, cl.caller, cl.session.SessionID, frame.MessageID)
		if err != nil {
			logger.Warn("read ack failed",
				zap.String("message_id", frame.MessageID.String()), zap.Error(err))
		}
	}
}

func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
