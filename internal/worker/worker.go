package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/pkg/queue"
)

// Upserter replays a reconcile call. *reconcile.Engine satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, call reconcile.Call) (reconcile.Result, error)
}

// JobQueue is the slice of *queue.Queue the processor uses.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// ErrPermanent marks a job that no amount of retrying will fix.
var ErrPermanent = errors.New("permanent job failure")

// RetryProcessor replays reconcile calls that failed transiently at the webhook edge.
type RetryProcessor struct {
	engine  Upserter
	queue   JobQueue
	backoff time.Duration
	poll    time.Duration
	logger  *zap.Logger
}

// NewRetryProcessor creates a retry processor. backoff <= 0 uses queue.RetryBackoff.
func NewRetryProcessor(engine Upserter, q JobQueue, backoff time.Duration, logger *zap.Logger) *RetryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &RetryProcessor{engine: engine, queue: q, backoff: backoff, poll: 5 * time.Second, logger: logger}
}

// Process executes one job.
func (p *RetryProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReconcileRetry {
		return fmt.Errorf("%w: unknown job type %s", ErrPermanent, job.Type)
	}
	var call reconcile.Call
	if err := json.Unmarshal(job.Payload, &call); err != nil {
		return fmt.Errorf("%w: unmarshal payload: %v", ErrPermanent, err)
	}
	res, err := p.engine.Upsert(ctx, call)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidCall) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
	p.logger.Info("reconcile retry applied",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.String("recording_id", res.RecordingID.String()),
		zap.String("action", string(res.Action)),
		zap.String("link_outcome", string(res.LinkOutcome)),
		zap.String("correlation_id", res.CorrelationID))
	return nil
}

// Handle processes job and routes failures to retry or the DLQ. It reports whether the
// caller should back off before the next job.
func (p *RetryProcessor) Handle(ctx context.Context, job *queue.Job) bool {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return false
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if errors.Is(err, ErrPermanent) {
		job.LastError = err.Error()
		if dlErr := p.queue.DeadLetter(ctx, job); dlErr != nil {
			p.logger.Error("dead letter failed", zap.Error(dlErr))
		}
		return false
	}
	if reErr := p.queue.Retry(ctx, job, err); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	return true
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RetryProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("retry worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}
		if p.Handle(ctx, job) {
			sleep(ctx, p.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
