package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/recordings"
	"github.com/aura-webinar/reconciler/internal/streams"
)

// PostgresStore runs reconcile calls in a read-committed transaction. Row locks
// (SELECT ... FOR UPDATE on the recording and the session) give per-record atomicity.
type PostgresStore struct {
	pool       *pgxpool.Pool
	recordings *recordings.Repository
	sessions   *streams.Repository
}

// NewPostgresStore creates a store over pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:       pool,
		recordings: recordings.NewRepository(pool),
		sessions:   streams.NewRepository(pool),
	}
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{
		recordings: recordings.NewRepository(tx),
		sessions:   streams.NewRepository(tx),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRecording returns a recording by id, or nil.
func (s *PostgresStore) GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return s.recordings.GetByID(ctx, id)
}

// RecordingsByAsset returns every recording stored for assetID, newest first.
func (s *PostgresStore) RecordingsByAsset(ctx context.Context, assetID string) ([]models.Recording, error) {
	return s.recordings.ListByAsset(ctx, assetID)
}

// GetSession returns a session by id, or nil.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// ListSessionsByExternalStreamID returns sessions sharing streamID, newest first.
func (s *PostgresStore) ListSessionsByExternalStreamID(ctx context.Context, streamID string) ([]models.Session, error) {
	return s.sessions.ListByExternalStreamID(ctx, streamID)
}

// CreateSession stores a new active session.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	return s.sessions.Create(ctx, sess)
}

type pgTx struct {
	recordings *recordings.Repository
	sessions   *streams.Repository
}

func (t *pgTx) FindLatestRecordingByAsset(ctx context.Context, assetID string) (*models.Recording, error) {
	return t.recordings.FindLatestByAsset(ctx, assetID)
}

func (t *pgTx) InsertRecording(ctx context.Context, rec *models.Recording) error {
	return t.recordings.Insert(ctx, rec)
}

func (t *pgTx) UpdateRecording(ctx context.Context, rec *models.Recording) error {
	return t.recordings.Update(ctx, rec)
}

func (t *pgTx) ClearRecordingLinkIf(ctx context.Context, recordingID, sessionID uuid.UUID) (bool, error) {
	return t.recordings.ClearLinkIf(ctx, recordingID, sessionID)
}

func (t *pgTx) LockSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return t.sessions.GetForUpdate(ctx, id)
}

func (t *pgTx) SessionsByExternalStreamID(ctx context.Context, streamID string) ([]models.Session, error) {
	return t.sessions.ListByExternalStreamID(ctx, streamID)
}

func (t *pgTx) UpdateSessionLink(ctx context.Context, s *models.Session) error {
	return t.sessions.UpdateLink(ctx, s)
}

func (t *pgTx) ClearSessionLinkIf(ctx context.Context, sessionID, recordingID uuid.UUID) (bool, error) {
	return t.sessions.ClearLinkIf(ctx, sessionID, recordingID)
}

func (t *pgTx) MarkSessionEnded(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return t.sessions.MarkEnded(ctx, sessionID, at)
}
