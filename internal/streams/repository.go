package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/database"
)

// Repository handles broadcast_sessions persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a sessions repository over a pool or a transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, external_stream_id, status, started_at, ended_at, recording_id,
	COALESCE(recording_asset_id,''), COALESCE(recording_source,''), recording_linked_at, created_by, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.ExternalStreamID, &s.Status, &s.StartedAt, &s.EndedAt, &s.RecordingID,
		&s.RecordingAssetID, &s.RecordingSource, &s.RecordingLinkedAt, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new active session for an external stream.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusActive
	}
	const q = `INSERT INTO broadcast_sessions (id, external_stream_id, status, started_at, created_by)
		VALUES ($1, $2, $3, COALESCE($4, NOW()), $5)
		RETURNING started_at, created_at, updated_at`
	var startedAt *time.Time
	if !s.StartedAt.IsZero() {
		startedAt = &s.StartedAt
	}
	return r.db.QueryRow(ctx, q, s.ID, s.ExternalStreamID, s.Status, startedAt, s.CreatedBy).
		Scan(&s.StartedAt, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM broadcast_sessions WHERE id = $1`, id))
}

// GetForUpdate returns a session by ID with a row lock held until the transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM broadcast_sessions WHERE id = $1 FOR UPDATE`, id))
}

// ListByExternalStreamID returns sessions sharing a provider stream id, newest first.
func (r *Repository) ListByExternalStreamID(ctx context.Context, streamID string) ([]models.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sessionColumns+` FROM broadcast_sessions
		WHERE external_stream_id = $1 ORDER BY started_at DESC`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateLink writes the four recording link fields.
func (r *Repository) UpdateLink(ctx context.Context, s *models.Session) error {
	const q = `UPDATE broadcast_sessions SET recording_id = $1, recording_asset_id = NULLIF($2, ''),
		recording_source = NULLIF($3, ''), recording_linked_at = $4, updated_at = NOW() WHERE id = $5`
	_, err := r.db.Exec(ctx, q, s.RecordingID, s.RecordingAssetID, s.RecordingSource, s.RecordingLinkedAt, s.ID)
	return err
}

// ClearLinkIf empties the recording slot only while it still holds recordingID.
func (r *Repository) ClearLinkIf(ctx context.Context, sessionID, recordingID uuid.UUID) (bool, error) {
	const q = `UPDATE broadcast_sessions SET recording_id = NULL, recording_asset_id = NULL, recording_source = NULL,
		recording_linked_at = NULL, updated_at = NOW() WHERE id = $1 AND recording_id = $2`
	tag, err := r.db.Exec(ctx, q, sessionID, recordingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkEnded sets ended_at once; later calls are no-ops.
func (r *Repository) MarkEnded(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	const q = `UPDATE broadcast_sessions SET status = $1, ended_at = $2, updated_at = NOW() WHERE id = $3 AND ended_at IS NULL`
	_, err := r.db.Exec(ctx, q, models.SessionStatusEnded, at, sessionID)
	return err
}
