// Package reconcile merges recording facts reported by the provider webhook and by the
// platform's end-broadcast action into one canonical Recording per external asset, and
// maintains the Session <-> Recording link.
package reconcile

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
)

// ErrInvalidCall is returned for calls that can never succeed, however often retried.
var ErrInvalidCall = errors.New("invalid reconcile call")

// Source is the provenance tag of a fact.
type Source string

const (
	SourceWebhook   Source = models.RecordingSourceWebhook
	SourceEndAction Source = models.RecordingSourceEndAction
)

// Valid reports whether s is a known producer.
func (s Source) Valid() bool { return s == SourceWebhook || s == SourceEndAction }

// Authoritative reports whether s may override claims made by other sources.
func (s Source) Authoritative() bool { return s == SourceEndAction }

// Facts is the partial set of recording attributes carried by one call. Nil means absent.
type Facts struct {
	Title             *string  `json:"title,omitempty"`
	Description       *string  `json:"description,omitempty"`
	PlaybackReference *string  `json:"playback_reference,omitempty"`
	DurationSeconds   *float64 `json:"duration_seconds,omitempty"`
	ReadinessStatus   *string  `json:"readiness_status,omitempty"`
	Visibility        *string  `json:"visibility,omitempty"`
	UploadedBy        *string  `json:"uploaded_by,omitempty"`
}

// Ptr returns a pointer to v. Handy for building Facts.
func Ptr[T any](v T) *T { return &v }

// nonEmpty returns s as an optional fact, treating "" as absent.
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Action describes what happened to the Recording.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Conflict is a divergent claim that was rejected rather than applied.
type Conflict struct {
	Field    string `json:"field"`
	Current  string `json:"current"`
	Incoming string `json:"incoming"`
}

// Call is one invocation of the reconciliation entry point. It is JSON-serialisable so a
// failed call can be queued and replayed verbatim.
type Call struct {
	Source           Source     `json:"source"`
	ExternalAssetID  string     `json:"external_asset_id"`
	EventType        string     `json:"event_type,omitempty"`
	CorrelationID    string     `json:"correlation_id,omitempty"`
	Facts            Facts      `json:"facts"`
	LinkTarget       *uuid.UUID `json:"link_target,omitempty"`
	ExternalStreamID string     `json:"external_stream_id,omitempty"`
	ReportedAt       time.Time  `json:"reported_at"`
}

func (c Call) validate() error {
	if !c.Source.Valid() {
		return errors.Join(ErrInvalidCall, errors.New("unknown source "+string(c.Source)))
	}
	if c.ExternalAssetID == "" {
		return errors.Join(ErrInvalidCall, errors.New("external asset id required"))
	}
	if c.Source == SourceEndAction && c.LinkTarget == nil {
		return errors.Join(ErrInvalidCall, errors.New("end action requires a session id"))
	}
	return nil
}

// Result is returned by every reconcile call.
type Result struct {
	RecordingID   uuid.UUID   `json:"recording_id"`
	Action        Action      `json:"action"`
	LinkOutcome   LinkOutcome `json:"link_outcome"`
	SessionID     *uuid.UUID  `json:"session_id,omitempty"`
	Conflicts     []Conflict  `json:"conflicts,omitempty"`
	CorrelationID string      `json:"correlation_id"`
}
