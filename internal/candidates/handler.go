package candidates

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// Reader returns the diagnostic trace for one asset.
type Reader interface {
	GetCandidate(ctx context.Context, assetID string) (*models.RecordingCandidate, error)
}

// Handler serves candidate diagnostics to operators.
type Handler struct {
	reader Reader
	logger *zap.Logger
}

// NewHandler creates a candidates handler.
func NewHandler(reader Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, logger: logger}
}

// Get handles GET /candidates/:asset_id (admin).
func (h *Handler) Get(c *gin.Context) {
	assetID := c.Param("asset_id")
	cand, err := h.reader.GetCandidate(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Error("get candidate failed", zap.Error(err), zap.String("external_asset_id", assetID))
		response.Internal(c, "failed to get candidate")
		return
	}
	if cand == nil {
		response.NotFound(c, "candidate not found")
		return
	}
	response.OK(c, cand)
}
