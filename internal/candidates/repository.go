package candidates

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/database"
)

// Repository persists the diagnostic recording candidate trace.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a candidates repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const candidateColumns = `external_asset_id, source_event_types, COALESCE(last_correlation_id,''),
	COALESCE(last_outcome,''), seen_count, first_seen_at, last_seen_at`

func scanCandidate(row pgx.Row) (*models.RecordingCandidate, error) {
	var c models.RecordingCandidate
	err := row.Scan(&c.ExternalAssetID, &c.SourceEventTypes, &c.LastCorrelationID, &c.LastOutcome,
		&c.SeenCount, &c.FirstSeenAt, &c.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Track upserts one observation. The source:event_type set is deduplicated, first_seen_at
// is written once and last_seen_at never moves backwards.
func (r *Repository) Track(ctx context.Context, obs models.CandidateObservation) error {
	const q = `INSERT INTO recording_candidates
		(external_asset_id, source_event_types, last_correlation_id, last_outcome, seen_count, first_seen_at, last_seen_at)
		VALUES ($1, ARRAY[$2::text], NULLIF($3,''), NULLIF($4,''), 1, $5, $5)
		ON CONFLICT (external_asset_id) DO UPDATE SET
			source_event_types = CASE
				WHEN $2::text = ANY(recording_candidates.source_event_types) THEN recording_candidates.source_event_types
				ELSE array_append(recording_candidates.source_event_types, $2::text)
			END,
			last_correlation_id = EXCLUDED.last_correlation_id,
			last_outcome = EXCLUDED.last_outcome,
			seen_count = recording_candidates.seen_count + 1,
			last_seen_at = GREATEST(recording_candidates.last_seen_at, EXCLUDED.last_seen_at)`
	_, err := r.db.Exec(ctx, q, obs.ExternalAssetID, obs.SourceEventType(), obs.CorrelationID, obs.Outcome, obs.ObservedAt)
	return err
}

// GetCandidate returns the trace for one external asset, or nil.
func (r *Repository) GetCandidate(ctx context.Context, assetID string) (*models.RecordingCandidate, error) {
	return scanCandidate(r.db.QueryRow(ctx, `SELECT `+candidateColumns+` FROM recording_candidates WHERE external_asset_id = $1`, assetID))
}

// ListStale returns up to limit candidates not seen since before, oldest first.
func (r *Repository) ListStale(ctx context.Context, before time.Time, limit int) ([]models.RecordingCandidate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+candidateColumns+` FROM recording_candidates
		WHERE last_seen_at < $1 ORDER BY last_seen_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.RecordingCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// DeleteStale removes the given candidates unless they were seen again at or after before.
func (r *Repository) DeleteStale(ctx context.Context, assetIDs []string, before time.Time) (int64, error) {
	if len(assetIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM recording_candidates WHERE external_asset_id = ANY($1) AND last_seen_at < $2`, assetIDs, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
