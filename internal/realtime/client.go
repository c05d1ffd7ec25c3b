package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/entitlements"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection watching one topic.
type Client struct {
	ID        string
	Topic     string
	Principal auth.Principal
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// TokenValidator turns a bearer token into a principal.
type TokenValidator func(token string) (auth.Principal, error)

// Access answers whether a user may watch an item. *entitlements.Bundler satisfies it.
type Access interface {
	HasBundledEntitlement(ctx context.Context, userID uuid.UUID, item entitlements.ItemRef) (bool, error)
}

// ServeWs handles GET /ws/recordings?recording_id=|session_id=&token= and streams
// recording_updated events for that item. Admins and operators may watch any item; other
// callers need an entitlement on it or on its linked counterpart.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, access Access, allowedOrigins []string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c *gin.Context) {
		topic, item, ok := topicFromQuery(c)
		if !ok {
			response.BadRequest(c, "recording_id or session_id required")
			return
		}
		token := c.Query("token")
		if token == "" {
			response.Unauthorized(c, "token required")
			return
		}
		p, err := validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if !p.IsStaff() {
			ok, err := access.HasBundledEntitlement(c.Request.Context(), p.UserID, item)
			if err != nil {
				logger.Error("entitlement check failed", zap.Error(err),
					zap.String("item_kind", item.Kind), zap.String("item_id", item.ID.String()))
				response.Internal(c, "failed to check entitlement")
				return
			}
			if !ok {
				response.Forbidden(c, "not entitled to this item")
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:        uuid.New().String(),
			Topic:     topic,
			Principal: p,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 64),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func topicFromQuery(c *gin.Context) (string, entitlements.ItemRef, bool) {
	if raw := c.Query("recording_id"); raw != "" {
		id, err := uuid.Parse(raw)
		return RecordingTopic(id), entitlements.ItemRef{Kind: models.ItemKindRecording, ID: id}, err == nil
	}
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		return SessionTopic(id), entitlements.ItemRef{Kind: models.ItemKindSession, ID: id}, err == nil
	}
	return "", entitlements.ItemRef{}, false
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set["*"] || set[origin]
	}
}

// readPump only drains control frames; the feed is server to client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
