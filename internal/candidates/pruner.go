package candidates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/storage"
)

// StaleStore lists and deletes candidates that have not been seen for a while.
type StaleStore interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.RecordingCandidate, error)
	DeleteStale(ctx context.Context, assetIDs []string, before time.Time) (int64, error)
}

// Archiver uploads an archive object. *storage.S3 satisfies it.
type Archiver interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// PrunerConfig controls retention and batching.
type PrunerConfig struct {
	Retention time.Duration
	BatchSize int
	Bucket    string
}

// Pruner archives stale candidates to object storage and then deletes them.
// Candidates are unbounded otherwise; nothing in reconciliation reads them.
type Pruner struct {
	store    StaleStore
	archiver Archiver
	cfg      PrunerConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewPruner creates a pruner. A nil archiver deletes without archiving.
func NewPruner(store StaleStore, archiver Archiver, cfg PrunerConfig, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Pruner{store: store, archiver: archiver, cfg: cfg, now: time.Now, logger: logger}
}

// PruneOnce archives and deletes batches until no stale candidates remain.
// It returns how many rows were deleted.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.cfg.Retention)
	var total int64
	for {
		batch, err := p.store.ListStale(ctx, cutoff, p.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list stale candidates: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := p.archive(ctx, batch); err != nil {
			return total, err
		}
		ids := make([]string, 0, len(batch))
		for _, c := range batch {
			ids = append(ids, c.ExternalAssetID)
		}
		n, err := p.store.DeleteStale(ctx, ids, cutoff)
		if err != nil {
			return total, fmt.Errorf("delete stale candidates: %w", err)
		}
		total += n
		if len(batch) < p.cfg.BatchSize {
			return total, nil
		}
	}
}

func (p *Pruner) archive(ctx context.Context, batch []models.RecordingCandidate) error {
	if p.archiver == nil {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range batch {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode candidate: %w", err)
		}
	}
	key := storage.CandidateArchiveKey(p.now(), uuid.New().String())
	size := int64(buf.Len())
	url, err := p.archiver.Upload(ctx, p.cfg.Bucket, key, "application/x-ndjson", &buf, size)
	if err != nil {
		return fmt.Errorf("archive candidates: %w", err)
	}
	p.logger.Info("candidates archived", zap.String("url", url), zap.Int("count", len(batch)))
	return nil
}

// DefaultPruneInterval is used when Run is given a non-positive interval.
const DefaultPruneInterval = time.Hour

// Run prunes on every tick until ctx is done.
func (p *Pruner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("candidate pruner stopping")
			return
		case <-ticker.C:
			n, err := p.PruneOnce(ctx)
			if err != nil {
				p.logger.Error("candidate prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("candidates pruned", zap.Int64("deleted", n))
			}
		}
	}
}
