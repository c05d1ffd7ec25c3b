package entitlements

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// Granter stores and lists direct entitlements. *Repository and *MemoryRepository satisfy it.
type Granter interface {
	Grant(ctx context.Context, e *models.Entitlement) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Entitlement, error)
}

// GrantRequest is the body for POST /entitlements.
type GrantRequest struct {
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	ItemKind string    `json:"item_kind" binding:"required,oneof=recording session"`
	ItemID   uuid.UUID `json:"item_id" binding:"required"`
	Source   string    `json:"source"`
}

// Handler handles entitlement HTTP endpoints.
type Handler struct {
	bundler *Bundler
	grants  Granter
	logger  *zap.Logger
}

// NewHandler creates an entitlements handler.
func NewHandler(bundler *Bundler, grants Granter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bundler: bundler, grants: grants, logger: logger}
}

// Check handles GET /entitlements/check?recording_id=|session_id= for the calling user.
func (h *Handler) Check(c *gin.Context) {
	p := middleware.Principal(c)
	if p.IsZero() {
		response.Unauthorized(c, "missing user context")
		return
	}
	var item ItemRef
	switch {
	case c.Query("recording_id") != "":
		item.Kind = models.ItemKindRecording
		item.ID, _ = uuid.Parse(c.Query("recording_id"))
	case c.Query("session_id") != "":
		item.Kind = models.ItemKindSession
		item.ID, _ = uuid.Parse(c.Query("session_id"))
	}
	if item.Kind == "" || item.ID == uuid.Nil {
		response.BadRequest(c, "recording_id or session_id required")
		return
	}
	ok, err := h.bundler.HasBundledEntitlement(c.Request.Context(), p.UserID, item)
	if err != nil {
		if errors.Is(err, ErrUnknownKind) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("entitlement check failed", zap.Error(err),
			zap.String("user_id", p.UserID.String()),
			zap.String("item_kind", item.Kind),
			zap.String("item_id", item.ID.String()))
		response.Internal(c, "failed to check entitlement")
		return
	}
	response.OK(c, gin.H{"item_kind": item.Kind, "item_id": item.ID, "entitled": ok})
}

// Grant handles POST /entitlements (admin).
func (h *Handler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	source := req.Source
	if source == "" {
		source = "admin"
	}
	e := &models.Entitlement{UserID: req.UserID, ItemKind: req.ItemKind, ItemID: req.ItemID, Source: source}
	if err := h.grants.Grant(c.Request.Context(), e); err != nil {
		h.logger.Error("grant entitlement failed", zap.Error(err), zap.String("user_id", req.UserID.String()))
		response.Internal(c, "failed to grant entitlement")
		return
	}
	response.Created(c, e)
}

// Mine handles GET /entitlements for the calling user.
func (h *Handler) Mine(c *gin.Context) {
	p := middleware.Principal(c)
	if p.IsZero() {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.grants.ListByUser(c.Request.Context(), p.UserID)
	if err != nil {
		h.logger.Error("list entitlements failed", zap.Error(err))
		response.Internal(c, "failed to list entitlements")
		return
	}
	if list == nil {
		list = []models.Entitlement{}
	}
	response.OK(c, list)
}
