package recordings

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// Reader is the read side of the recording store. Both reconcile stores satisfy it.
type Reader interface {
	GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	RecordingsByAsset(ctx context.Context, assetID string) ([]models.Recording, error)
}

// Access answers whether a user may see a recording. *entitlements.Bundler satisfies it.
type Access interface {
	HasRecordingEntitlement(ctx context.Context, userID, recordingID uuid.UUID) (bool, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	reader Reader
	access Access
	logger *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(reader Reader, access Access, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, access: access, logger: logger}
}

// Get handles GET /recordings/:id. Admins and operators see every recording; other
// callers need an entitlement on the recording or its linked session.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	if !h.authorize(c, id) {
		return
	}
	rec, err := h.reader.GetRecording(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to get recording")
		return
	}
	if rec == nil {
		response.NotFound(c, "recording not found")
		return
	}
	response.OK(c, rec)
}

// ByAsset handles GET /recordings/by-asset/:asset_id. The first element is the canonical
// recording; any others are duplicates left by a first-write race. Access is decided on
// the canonical recording.
func (h *Handler) ByAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	list, err := h.reader.RecordingsByAsset(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Error("list recordings by asset failed", zap.Error(err), zap.String("external_asset_id", assetID))
		response.Internal(c, "failed to list recordings")
		return
	}
	if len(list) == 0 {
		response.NotFound(c, "recording not found")
		return
	}
	if !h.authorize(c, list[0].ID) {
		return
	}
	response.OK(c, gin.H{"recording": list[0], "duplicates": len(list) - 1})
}

func (h *Handler) authorize(c *gin.Context, recordingID uuid.UUID) bool {
	p := middleware.Principal(c)
	if p.IsZero() {
		response.Unauthorized(c, "missing user context")
		return false
	}
	if p.IsStaff() {
		return true
	}
	ok, err := h.access.HasRecordingEntitlement(c.Request.Context(), p.UserID, recordingID)
	if err != nil {
		h.logger.Error("entitlement check failed", zap.Error(err),
			zap.String("recording_id", recordingID.String()), zap.String("user_id", p.UserID.String()))
		response.Internal(c, "failed to check entitlement")
		return false
	}
	if !ok {
		response.Forbidden(c, "not entitled to this recording")
		return false
	}
	return true
}
