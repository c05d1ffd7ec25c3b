package ingest

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// EndBroadcastRequest is the body for POST /sessions/:id/end.
type EndBroadcastRequest struct {
	AssetID     string   `json:"asset_id" binding:"required"`
	PlaybackID  string   `json:"playback_id"`
	Duration    *float64 `json:"duration" binding:"omitempty,gte=0"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// EndActionHandler handles the operator's end-broadcast action.
type EndActionHandler struct {
	engine Reconciler
	logger *zap.Logger
}

// NewEndActionHandler creates an end-broadcast handler.
func NewEndActionHandler(engine Reconciler, logger *zap.Logger) *EndActionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndActionHandler{engine: engine, logger: logger}
}

// EndBroadcast handles POST /sessions/:id/end. It runs synchronously; on a transient
// failure the operator is told to retry.
func (h *EndActionHandler) EndBroadcast(c *gin.Context) {
	p := middleware.Principal(c)
	if p.IsZero() {
		response.Unauthorized(c, "missing user context")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req EndBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.engine.ReportEndAction(c.Request.Context(), p, reconcile.EndAction{
		ExternalAssetID:   req.AssetID,
		SessionID:         sessionID,
		PlaybackReference: req.PlaybackID,
		DurationSeconds:   req.Duration,
		Title:             req.Title,
		Description:       req.Description,
		CorrelationID:     middleware.RequestID(c),
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidCall) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("end broadcast reconcile failed", zap.Error(err),
			zap.String("session_id", sessionID.String()),
			zap.String("external_asset_id", req.AssetID),
			zap.String("user_id", p.UserID.String()))
		response.ServiceUnavailable(c, "could not save recording, please retry")
		return
	}
	h.logger.Info("broadcast ended",
		zap.String("session_id", sessionID.String()),
		zap.String("recording_id", res.RecordingID.String()),
		zap.String("action", string(res.Action)),
		zap.String("link_outcome", string(res.LinkOutcome)),
		zap.String("user_id", p.UserID.String()))
	response.OK(c, res)
}
