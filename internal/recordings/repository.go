package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/database"
)

// Repository handles recording persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a recordings repository over a pool or a transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const recordingColumns = `id, external_asset_id, COALESCE(title,''), COALESCE(description,''), status,
	COALESCE(playback_reference,''), COALESCE(playback_url,''), COALESCE(thumbnail_url,''), duration_seconds,
	COALESCE(visibility,''), COALESCE(uploaded_by,''), linked_session_id, COALESCE(provider,''), view_count,
	created_at, updated_at`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.ExternalAssetID, &rec.Title, &rec.Description, &rec.Status,
		&rec.PlaybackReference, &rec.PlaybackURL, &rec.ThumbnailURL, &rec.DurationSeconds,
		&rec.Visibility, &rec.UploadedBy, &rec.LinkedSessionID, &rec.Provider, &rec.ViewCount,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert adds a recording. external_asset_id is not unique: racing first writers may
// both insert, and readers converge on the newest row.
func (r *Repository) Insert(ctx context.Context, rec *models.Recording) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	const q = `INSERT INTO recordings (id, external_asset_id, title, description, status, playback_reference,
		playback_url, thumbnail_url, duration_seconds, visibility, uploaded_by, linked_session_id, provider, view_count)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, NULLIF($10,''), NULLIF($11,''), $12, NULLIF($13,''), 0)
		RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, q, rec.ID, rec.ExternalAssetID, rec.Title, rec.Description, rec.Status,
		rec.PlaybackReference, rec.PlaybackURL, rec.ThumbnailURL, rec.DurationSeconds, rec.Visibility,
		rec.UploadedBy, rec.LinkedSessionID, rec.Provider).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID returns a recording by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return scanRecording(r.db.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id))
}

// FindLatestByAsset returns the most recently created recording for an external asset,
// locking it for the rest of the transaction. Nil when none exists.
func (r *Repository) FindLatestByAsset(ctx context.Context, assetID string) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE external_asset_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`
	return scanRecording(r.db.QueryRow(ctx, q, assetID))
}

// Update writes every mutable field of rec.
func (r *Repository) Update(ctx context.Context, rec *models.Recording) error {
	const q = `UPDATE recordings SET title = $1, description = $2, status = $3, playback_reference = NULLIF($4,''),
		playback_url = NULLIF($5,''), thumbnail_url = NULLIF($6,''), duration_seconds = $7, visibility = NULLIF($8,''),
		uploaded_by = NULLIF($9,''), linked_session_id = $10, provider = NULLIF($11,''), updated_at = NOW()
		WHERE id = $12 RETURNING updated_at`
	return r.db.QueryRow(ctx, q, rec.Title, rec.Description, rec.Status, rec.PlaybackReference, rec.PlaybackURL,
		rec.ThumbnailURL, rec.DurationSeconds, rec.Visibility, rec.UploadedBy, rec.LinkedSessionID, rec.Provider, rec.ID).
		Scan(&rec.UpdatedAt)
}

// ClearLinkIf clears linked_session_id only while it still equals sessionID.
func (r *Repository) ClearLinkIf(ctx context.Context, recordingID, sessionID uuid.UUID) (bool, error) {
	const q = `UPDATE recordings SET linked_session_id = NULL, updated_at = NOW() WHERE id = $1 AND linked_session_id = $2`
	tag, err := r.db.Exec(ctx, q, recordingID, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListByAsset returns every recording stored for an external asset, newest first.
// More than one row means a first-write race left a duplicate.
func (r *Repository) ListByAsset(ctx context.Context, assetID string) ([]models.Recording, error) {
	rows, err := r.db.Query(ctx, `SELECT `+recordingColumns+` FROM recordings
		WHERE external_asset_id = $1 ORDER BY created_at DESC, id DESC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}
