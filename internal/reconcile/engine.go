package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/streams"
)

// Options configures an Engine. Zero values are usable.
type Options struct {
	// Provider tags every recording created by this engine (e.g. "mux").
	Provider string
	Deriver  Deriver
	// SessionMatchWindow widens a session's [started, ended] interval when a webhook
	// identifies the session only by external stream id.
	SessionMatchWindow time.Duration
	// Publisher is optional.
	Publisher Publisher
	Now       func() time.Time
}

// Engine is the single entry point both producers call.
type Engine struct {
	store     Store
	tracker   Tracker
	publisher Publisher
	opts      Options
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates a reconciliation engine. tracker may be nil.
func NewEngine(store Store, tracker Tracker, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, tracker: tracker, publisher: opts.Publisher, opts: opts, now: now, logger: logger}
}

// WebhookAsset is one provider delivery about an asset.
type WebhookAsset struct {
	DeliveryID        string
	EventType         string
	ExternalAssetID   string
	ExternalStreamID  string
	PlaybackReference string
	DurationSeconds   *float64
	ReadinessStatus   string
	Title             string
	Description       string
	Visibility        string
	UploadedBy        string
	LinkSessionID     *uuid.UUID
	OccurredAt        time.Time
}

// ReportWebhookAsset reconciles a provider delivery.
func (e *Engine) ReportWebhookAsset(ctx context.Context, in WebhookAsset) (Result, error) {
	return e.Upsert(ctx, in.Call())
}

// Call converts the delivery into an engine call.
func (in WebhookAsset) Call() Call {
	facts := Facts{
		Title:             nonEmpty(in.Title),
		Description:       nonEmpty(in.Description),
		PlaybackReference: nonEmpty(in.PlaybackReference),
		DurationSeconds:   in.DurationSeconds,
		ReadinessStatus:   nonEmpty(in.ReadinessStatus),
		Visibility:        nonEmpty(in.Visibility),
		UploadedBy:        nonEmpty(in.UploadedBy),
	}
	return Call{
		Source:           SourceWebhook,
		ExternalAssetID:  in.ExternalAssetID,
		EventType:        in.EventType,
		CorrelationID:    in.DeliveryID,
		Facts:            facts,
		LinkTarget:       in.LinkSessionID,
		ExternalStreamID: in.ExternalStreamID,
		ReportedAt:       in.OccurredAt,
	}
}

// EndAction is the operator's synchronous "end broadcast" report.
type EndAction struct {
	ExternalAssetID   string
	SessionID         uuid.UUID
	PlaybackReference string
	DurationSeconds   *float64
	Title             string
	Description       string
	CorrelationID     string
}

// ReportEndAction reconciles an end-broadcast action on behalf of p.
func (e *Engine) ReportEndAction(ctx context.Context, p auth.Principal, in EndAction) (Result, error) {
	if p.IsZero() {
		return Result{}, errors.Join(ErrInvalidCall, errors.New("end action requires a principal"))
	}
	if in.SessionID == uuid.Nil {
		return Result{}, errors.Join(ErrInvalidCall, errors.New("end action requires a session id"))
	}
	sessionID := in.SessionID
	return e.Upsert(ctx, Call{
		Source:          SourceEndAction,
		ExternalAssetID: in.ExternalAssetID,
		EventType:       "broadcast.ended",
		CorrelationID:   in.CorrelationID,
		Facts: Facts{
			Title:             nonEmpty(in.Title),
			Description:       nonEmpty(in.Description),
			PlaybackReference: nonEmpty(in.PlaybackReference),
			DurationSeconds:   in.DurationSeconds,
			UploadedBy:        Ptr(p.UserID.String()),
		},
		LinkTarget: &sessionID,
	})
}

// Upsert merges call into the recording store and, when a session is targeted, resolves
// the link. The whole read-merge-write runs in one Store transaction. Re-invoking the
// identical call after an error is always safe.
func (e *Engine) Upsert(ctx context.Context, call Call) (Result, error) {
	if err := call.validate(); err != nil {
		return Result{}, err
	}
	now := e.now().UTC()
	if call.CorrelationID == "" {
		call.CorrelationID = uuid.NewString()
	}
	if call.ReportedAt.IsZero() {
		call.ReportedAt = now
	}

	var (
		res   Result
		saved models.Recording
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, saved, err = e.apply(ctx, tx, call, now)
		return err
	})
	e.track(ctx, call, res, err, now)
	if err != nil {
		return Result{CorrelationID: call.CorrelationID}, err
	}
	e.publish(ctx, call, res, saved, now)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, tx Tx, call Call, now time.Time) (Result, models.Recording, error) {
	res := Result{LinkOutcome: LinkNotRequested, CorrelationID: call.CorrelationID}

	// Lock order is session, then recording, then stale rows.
	session, outcome, err := e.targetSession(ctx, tx, call)
	if err != nil {
		return res, models.Recording{}, err
	}
	existing, err := tx.FindLatestRecordingByAsset(ctx, call.ExternalAssetID)
	if err != nil {
		return res, models.Recording{}, fmt.Errorf("find recording: %w", err)
	}
	var next models.Recording
	changed := false
	if existing == nil {
		next = NewRecording(call.ExternalAssetID, call.Facts, e.opts.Provider, e.opts.Deriver)
		next.ID = uuid.New()
		res.Action = ActionInserted
	} else {
		next, changed, res.Conflicts = MergeRecording(*existing, call.Facts, call.Source, e.opts.Provider, e.opts.Deriver)
		for _, c := range res.Conflicts {
			e.logger.Warn("recording fact rejected",
				zap.String("field", c.Field),
				zap.String("current", c.Current),
				zap.String("incoming", c.Incoming),
				zap.String("external_asset_id", call.ExternalAssetID),
				zap.String("recording_id", next.ID.String()),
				zap.String("source", string(call.Source)),
				zap.String("correlation_id", call.CorrelationID))
		}
	}
	res.RecordingID = next.ID

	var plan LinkPlan
	if outcome != "" {
		res.LinkOutcome = outcome
	} else {
		plan = ResolveLink(LinkInput{
			Session:   session,
			Recording: next,
			AssetID:   call.ExternalAssetID,
			Source:    call.Source,
			Now:       now,
		})
		res.LinkOutcome = plan.Outcome
		if session != nil {
			id := session.ID
			res.SessionID = &id
		}
		if plan.RecordingChanged {
			next.LinkedSessionID = plan.LinkedSessionID
			changed = true
		}
		if plan.Outcome == LinkConflict {
			e.logLinkConflict(call, next, session)
			res.Conflicts = append(res.Conflicts, linkConflict(next, session))
		}
	}

	switch {
	case existing == nil:
		if err := tx.InsertRecording(ctx, &next); err != nil {
			return res, models.Recording{}, fmt.Errorf("insert recording: %w", err)
		}
	case changed:
		res.Action = ActionUpdated
		if err := tx.UpdateRecording(ctx, &next); err != nil {
			return res, models.Recording{}, fmt.Errorf("update recording: %w", err)
		}
	default:
		res.Action = ActionUnchanged
	}

	if err := e.applyLinkPlan(ctx, tx, plan, next, session); err != nil {
		return res, models.Recording{}, err
	}
	if call.Source == SourceEndAction && session != nil && session.EndedAt == nil {
		if err := tx.MarkSessionEnded(ctx, session.ID, now); err != nil {
			return res, models.Recording{}, fmt.Errorf("end session: %w", err)
		}
	}
	return res, next, nil
}

// targetSession locks the session a call refers to. A non-empty outcome means no session
// will be linked and carries the reason.
func (e *Engine) targetSession(ctx context.Context, tx Tx, call Call) (*models.Session, LinkOutcome, error) {
	if call.LinkTarget != nil {
		s, err := tx.LockSession(ctx, *call.LinkTarget)
		if err != nil {
			return nil, "", fmt.Errorf("lock session: %w", err)
		}
		return s, "", nil
	}
	if call.ExternalStreamID == "" {
		return nil, LinkNotRequested, nil
	}
	candidates, err := tx.SessionsByExternalStreamID(ctx, call.ExternalStreamID)
	if err != nil {
		return nil, "", fmt.Errorf("sessions by stream: %w", err)
	}
	match, result := streams.Match(candidates, call.ExternalAssetID, call.ReportedAt, e.opts.SessionMatchWindow)
	switch result {
	case streams.MatchAmbiguous:
		e.logger.Info("stream id matches several sessions; not linking",
			zap.String("external_stream_id", call.ExternalStreamID),
			zap.String("external_asset_id", call.ExternalAssetID))
		return nil, LinkAmbiguousSession, nil
	case streams.MatchNone:
		return nil, LinkSessionNotFound, nil
	}
	s, err := tx.LockSession(ctx, match.ID)
	if err != nil {
		return nil, "", fmt.Errorf("lock session: %w", err)
	}
	return s, "", nil
}

func (e *Engine) applyLinkPlan(ctx context.Context, tx Tx, plan LinkPlan, rec models.Recording, session *models.Session) error {
	if session == nil || (plan.Outcome != LinkLinked && plan.Outcome != LinkAlreadyLinked) {
		return nil
	}
	if plan.StaleRecordingID != nil {
		cleared, err := tx.ClearRecordingLinkIf(ctx, *plan.StaleRecordingID, session.ID)
		if err != nil {
			return fmt.Errorf("clear stale recording link: %w", err)
		}
		e.logger.Info("session relinked by authoritative source",
			zap.String("session_id", session.ID.String()),
			zap.String("previous_recording_id", plan.StaleRecordingID.String()),
			zap.String("recording_id", rec.ID.String()),
			zap.Bool("previous_back_reference_cleared", cleared))
	}
	if plan.StaleSessionID != nil {
		cleared, err := tx.ClearSessionLinkIf(ctx, *plan.StaleSessionID, rec.ID)
		if err != nil {
			return fmt.Errorf("clear stale session link: %w", err)
		}
		e.logger.Info("recording relinked by authoritative source",
			zap.String("recording_id", rec.ID.String()),
			zap.String("previous_session_id", plan.StaleSessionID.String()),
			zap.String("session_id", session.ID.String()),
			zap.Bool("previous_slot_cleared", cleared))
	}
	if plan.SessionChanged {
		next := plan.Session
		if err := tx.UpdateSessionLink(ctx, &next); err != nil {
			return fmt.Errorf("update session link: %w", err)
		}
	}
	return nil
}

func (e *Engine) logLinkConflict(call Call, rec models.Recording, session *models.Session) {
	fields := []zap.Field{
		zap.String("recording_id", rec.ID.String()),
		zap.String("external_asset_id", call.ExternalAssetID),
		zap.String("source", string(call.Source)),
		zap.String("correlation_id", call.CorrelationID),
	}
	if session != nil {
		fields = append(fields,
			zap.String("session_id", session.ID.String()),
			zap.String("session_recording_asset_id", session.RecordingAssetID),
			zap.String("session_recording_source", session.RecordingSource))
	}
	if rec.LinkedSessionID != nil {
		fields = append(fields, zap.String("recording_linked_session_id", rec.LinkedSessionID.String()))
	}
	e.logger.Warn("link conflict; keeping existing link", fields...)
}

func linkConflict(rec models.Recording, session *models.Session) Conflict {
	c := Conflict{Field: "link"}
	if session == nil {
		return c
	}
	c.Incoming = session.ID.String() + " -> " + rec.ID.String()
	switch {
	case session.RecordingID != nil && *session.RecordingID != rec.ID:
		c.Current = session.ID.String() + " -> " + session.RecordingID.String()
	case session.RecordingAssetID != "" && session.RecordingAssetID != rec.ExternalAssetID:
		c.Current = session.ID.String() + " -> asset " + session.RecordingAssetID
	case rec.LinkedSessionID != nil:
		c.Current = rec.LinkedSessionID.String() + " -> " + rec.ID.String()
	}
	return c
}

func (e *Engine) track(ctx context.Context, call Call, res Result, callErr error, now time.Time) {
	if e.tracker == nil {
		return
	}
	outcome := string(res.Action)
	if res.LinkOutcome != "" {
		outcome += "/" + string(res.LinkOutcome)
	}
	if callErr != nil {
		outcome = "error"
	}
	eventType := call.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	err := e.tracker.Track(ctx, models.CandidateObservation{
		ExternalAssetID: call.ExternalAssetID,
		Source:          string(call.Source),
		EventType:       eventType,
		CorrelationID:   call.CorrelationID,
		Outcome:         outcome,
		ObservedAt:      now,
	})
	if err != nil {
		e.logger.Warn("track candidate failed", zap.Error(err),
			zap.String("external_asset_id", call.ExternalAssetID),
			zap.String("correlation_id", call.CorrelationID))
	}
}

func (e *Engine) publish(ctx context.Context, call Call, res Result, rec models.Recording, now time.Time) {
	if e.publisher == nil || (res.Action == ActionUnchanged && res.LinkOutcome != LinkLinked) {
		return
	}
	ev := models.RecordingEvent{
		RecordingID:     res.RecordingID,
		SessionID:       rec.LinkedSessionID,
		ExternalAssetID: call.ExternalAssetID,
		Status:          rec.Status,
		PlaybackURL:     rec.PlaybackURL,
		Action:          string(res.Action),
		LinkOutcome:     string(res.LinkOutcome),
		Source:          string(call.Source),
		CorrelationID:   call.CorrelationID,
		At:              now,
	}
	if err := e.publisher.PublishRecordingEvent(ctx, ev); err != nil {
		e.logger.Warn("publish recording event failed", zap.Error(err), zap.String("recording_id", res.RecordingID.String()))
	}
}
