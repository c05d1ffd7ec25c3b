package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventRecordingUpdated is sent whenever a reconcile call changes a recording or a link.
	EventRecordingUpdated = "recording_updated"
)

// RecordingTopic is the topic for one recording's events.
func RecordingTopic(id uuid.UUID) string { return "recording:" + id.String() }

// SessionTopic is the topic for events about the recording linked to a session.
func SessionTopic(id uuid.UUID) string { return "session:" + id.String() }

// Topics lists every topic ev is delivered to.
func Topics(ev models.RecordingEvent) []string {
	topics := []string{RecordingTopic(ev.RecordingID)}
	if ev.SessionID != nil {
		topics = append(topics, SessionTopic(*ev.SessionID))
	}
	return topics
}

// Subscriber subscribes to topic channels and invokes handler for incoming events.
type Subscriber interface {
	Subscribe(topic string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains topic -> set of connections and broadcasts messages.
// With a Subscriber, events arrive through Redis so every instance sees them.
type Hub struct {
	topics map[string]map[string]*Client
	subs   map[string]func()
	mu     sync.RWMutex
	logger *zap.Logger
	sub    Subscriber
}

// NewHub creates a new WebSocket hub. sub may be nil for a single-instance deployment.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		logger: logger,
		sub:    sub,
	}
}

// Register adds a client to a topic. Starts the Redis subscription for the topic if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[c.Topic] == nil {
		h.topics[c.Topic] = make(map[string]*Client)
		if h.sub != nil {
			topic := c.Topic
			cancel, err := h.sub.Subscribe(topic, func(event string, payload []byte) {
				h.Broadcast(topic, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("topic subscribe failed", zap.String("topic", topic), zap.Error(err))
			} else {
				h.subs[topic] = cancel
			}
		}
	}
	h.topics[c.Topic][c.ID] = c
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("topic", c.Topic),
		zap.String("user_id", c.Principal.UserID.String()), zap.String("role", c.Principal.Role))
}

// Unregister removes a client from its topic. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	var cancel func()
	h.mu.Lock()
	if m, ok := h.topics[c.Topic]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, c.Topic)
			cancel = h.subs[c.Topic]
			delete(h.subs, c.Topic)
		}
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("topic", c.Topic))
}

// Broadcast sends a message to all local clients on a topic.
func (h *Hub) Broadcast(topic, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.topics[topic] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full; dropping event", zap.String("client_id", c.ID), zap.String("topic", topic))
		}
	}
}

// PublishRecordingEvent implements reconcile.Publisher for single-instance deployments.
func (h *Hub) PublishRecordingEvent(_ context.Context, ev models.RecordingEvent) error {
	for _, topic := range Topics(ev) {
		h.Broadcast(topic, EventRecordingUpdated, ev)
	}
	return nil
}

// Subscribers returns the number of connected clients on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
