package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
)

// Store runs one reconcile call as a single atomic read-merge-write.
// Implementations provide per-record atomicity (row locks, a transaction); the engine
// itself takes no locks.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside InTx. Lookups return nil, nil when
// the row does not exist.
type Tx interface {
	FindLatestRecordingByAsset(ctx context.Context, assetID string) (*models.Recording, error)
	InsertRecording(ctx context.Context, rec *models.Recording) error
	UpdateRecording(ctx context.Context, rec *models.Recording) error
	// ClearRecordingLinkIf clears linked_session_id on recordingID only if it equals sessionID.
	ClearRecordingLinkIf(ctx context.Context, recordingID, sessionID uuid.UUID) (bool, error)

	LockSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	SessionsByExternalStreamID(ctx context.Context, streamID string) ([]models.Session, error)
	UpdateSessionLink(ctx context.Context, s *models.Session) error
	// ClearSessionLinkIf empties the recording slot of sessionID only if it holds recordingID.
	ClearSessionLinkIf(ctx context.Context, sessionID, recordingID uuid.UUID) (bool, error)
	MarkSessionEnded(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

// Tracker receives every inbound fact regardless of outcome. It is diagnostic only.
type Tracker interface {
	Track(ctx context.Context, obs models.CandidateObservation) error
}

// Publisher announces committed reconciliation results to downstream listeners.
type Publisher interface {
	PublishRecordingEvent(ctx context.Context, ev models.RecordingEvent) error
}
