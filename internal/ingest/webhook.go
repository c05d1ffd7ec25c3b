// Package ingest holds the two inbound producers: the provider webhook and the
// operator's end-broadcast action.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/pkg/queue"
	"github.com/aura-webinar/reconciler/pkg/response"
)

const maxWebhookBody = 1 << 20

// Reconciler is the engine surface the producers call. *reconcile.Engine satisfies it.
type Reconciler interface {
	ReportWebhookAsset(ctx context.Context, in reconcile.WebhookAsset) (reconcile.Result, error)
	ReportEndAction(ctx context.Context, p auth.Principal, in reconcile.EndAction) (reconcile.Result, error)
}

// RetryQueue accepts calls to be replayed by the retry worker. *queue.Queue satisfies it.
type RetryQueue interface {
	Enqueue(ctx context.Context, t queue.JobType, payload any) (string, error)
}

// AssetEvent is the provider's delivery envelope.
type AssetEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      AssetData `json:"data"`
}

// AssetData is the asset object inside a delivery.
type AssetData struct {
	ID           string   `json:"id"`
	LiveStreamID string   `json:"live_stream_id"`
	PlaybackID   string   `json:"playback_id"`
	Duration     *float64 `json:"duration"`
	Status       string   `json:"status"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Visibility   string   `json:"visibility"`
	UploadedBy   string   `json:"uploaded_by"`
	Passthrough  string   `json:"passthrough"`
}

// WebhookConfig controls signature checks and which deliveries are reconciled.
type WebhookConfig struct {
	// Secret enables HMAC verification when non-empty.
	Secret    string
	Tolerance time.Duration
	// EventPrefix selects asset deliveries, e.g. "video.asset.". Empty accepts every type.
	EventPrefix string
	// IgnoredEvents are acknowledged without reconciling.
	IgnoredEvents []string
}

// WebhookHandler handles provider asset webhooks.
type WebhookHandler struct {
	engine Reconciler
	retry  RetryQueue
	cfg    WebhookConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. retry may be nil, in which case transient
// failures are answered with 503 so the provider redelivers.
func NewWebhookHandler(engine Reconciler, retry RetryQueue, cfg WebhookConfig, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{engine: engine, retry: retry, cfg: cfg, now: time.Now, logger: logger}
}

// RecordingAsset handles POST /webhooks/recording-asset.
func (h *WebhookHandler) RecordingAsset(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		response.TooLarge(c, "body too large")
		return
	}
	if h.cfg.Secret != "" {
		if err := VerifySignature(h.cfg.Secret, c.GetHeader(HeaderSignature), body, h.now(), h.cfg.Tolerance); err != nil {
			h.logger.Warn("webhook signature rejected", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			response.Unauthorized(c, err.Error())
			return
		}
	}

	var ev AssetEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !h.accepts(ev.Type) {
		h.logger.Debug("webhook ignored", zap.String("type", ev.Type), zap.String("delivery_id", ev.ID))
		response.OK(c, gin.H{"ignored": true, "type": ev.Type})
		return
	}
	if ev.Data.ID == "" {
		response.BadRequest(c, "data.id required")
		return
	}

	in := toWebhookAsset(ev)
	if in.OccurredAt.IsZero() {
		// Pinned so a queued replay still matches sessions by receive time.
		in.OccurredAt = h.now().UTC()
	}
	res, err := h.engine.ReportWebhookAsset(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidCall) {
			response.BadRequest(c, err.Error())
			return
		}
		h.deferRetry(c, in, err)
		return
	}
	h.logger.Info("recording webhook reconciled",
		zap.String("delivery_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("external_asset_id", ev.Data.ID),
		zap.String("recording_id", res.RecordingID.String()),
		zap.String("action", string(res.Action)),
		zap.String("link_outcome", string(res.LinkOutcome)))
	response.OK(c, res)
}

func (h *WebhookHandler) deferRetry(c *gin.Context, in reconcile.WebhookAsset, cause error) {
	fields := []zap.Field{
		zap.Error(cause),
		zap.String("delivery_id", in.DeliveryID),
		zap.String("external_asset_id", in.ExternalAssetID),
	}
	if h.retry == nil {
		h.logger.Error("webhook reconcile failed", fields...)
		response.ServiceUnavailable(c, "temporarily unavailable")
		return
	}
	jobID, err := h.retry.Enqueue(c.Request.Context(), queue.JobTypeReconcileRetry, in.Call())
	if err != nil {
		h.logger.Error("webhook reconcile failed and retry enqueue failed", append(fields, zap.NamedError("enqueue_error", err))...)
		response.ServiceUnavailable(c, "temporarily unavailable")
		return
	}
	h.logger.Warn("webhook reconcile deferred to retry queue", append(fields, zap.String("job_id", jobID))...)
	response.Accepted(c, gin.H{"queued": true, "job_id": jobID, "correlation_id": in.DeliveryID})
}

func (h *WebhookHandler) accepts(eventType string) bool {
	for _, ig := range h.cfg.IgnoredEvents {
		if eventType == ig {
			return false
		}
	}
	return h.cfg.EventPrefix == "" || strings.HasPrefix(eventType, h.cfg.EventPrefix)
}

func toWebhookAsset(ev AssetEvent) reconcile.WebhookAsset {
	deliveryID := ev.ID
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	return reconcile.WebhookAsset{
		DeliveryID:        deliveryID,
		EventType:         ev.Type,
		ExternalAssetID:   ev.Data.ID,
		ExternalStreamID:  ev.Data.LiveStreamID,
		PlaybackReference: ev.Data.PlaybackID,
		DurationSeconds:   ev.Data.Duration,
		ReadinessStatus:   ev.Data.Status,
		Title:             ev.Data.Title,
		Description:       ev.Data.Description,
		Visibility:        ev.Data.Visibility,
		UploadedBy:        ev.Data.UploadedBy,
		LinkSessionID:     passthroughSession(ev.Data.Passthrough),
		OccurredAt:        ev.CreatedAt,
	}
}

// passthroughSession extracts an internal session id from the provider passthrough field,
// which is either a bare id or a JSON object with session_id.
func passthroughSession(raw string) *uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if id, err := uuid.Parse(raw); err == nil {
		return &id
	}
	var obj struct {
		SessionID string `json:"session_id"`
	}
	if json.Unmarshal([]byte(raw), &obj) != nil {
		return nil
	}
	if id, err := uuid.Parse(obj.SessionID); err == nil {
		return &id
	}
	return nil
}
