package streams

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/response"
)

// Store is the session store surface the handler needs. Both reconcile stores satisfy it.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessionsByExternalStreamID(ctx context.Context, streamID string) ([]models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error
}

// StartRequest is the body for POST /sessions.
type StartRequest struct {
	ExternalStreamID string     `json:"external_stream_id" binding:"required"`
	StartedAt        *time.Time `json:"started_at"`
}

// Handler handles broadcast session HTTP endpoints.
type Handler struct {
	store  Store
	window time.Duration
	logger *zap.Logger
}

// NewHandler creates a sessions handler. window is the stream-id match window.
func NewHandler(store Store, window time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, window: window, logger: logger}
}

// Start handles POST /sessions. Creates an active session for a provider stream.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s := &models.Session{ExternalStreamID: req.ExternalStreamID, Status: models.SessionStatusActive}
	if req.StartedAt != nil {
		s.StartedAt = req.StartedAt.UTC()
	}
	if p := middleware.Principal(c); !p.IsZero() {
		id := p.UserID
		s.CreatedBy = &id
	}
	if err := h.store.CreateSession(c.Request.Context(), s); err != nil {
		h.logger.Error("create session failed", zap.Error(err), zap.String("external_stream_id", req.ExternalStreamID))
		response.Internal(c, "failed to create session")
		return
	}
	h.logger.Info("broadcast session started", zap.String("session_id", s.ID.String()), zap.String("external_stream_id", s.ExternalStreamID))
	response.Created(c, s)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.store.GetSession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to get session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, s)
}

// ByStream handles GET /sessions/by-stream/:stream_id?at=RFC3339&asset_id=. It resolves
// the stream id the same way webhook deliveries are matched.
func (h *Handler) ByStream(c *gin.Context) {
	streamID := c.Param("stream_id")
	var at time.Time
	if raw := c.Query("at"); raw != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, raw); err != nil {
			response.BadRequest(c, "invalid at: expected RFC3339")
			return
		}
	}
	sessions, err := h.store.ListSessionsByExternalStreamID(c.Request.Context(), streamID)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err), zap.String("external_stream_id", streamID))
		response.Internal(c, "failed to list sessions")
		return
	}
	s, result := Match(sessions, c.Query("asset_id"), at, h.window)
	switch result {
	case MatchAmbiguous:
		response.Conflict(c, "stream id matches several sessions")
	case MatchNone:
		response.NotFound(c, "session not found")
	default:
		response.OK(c, s)
	}
}
