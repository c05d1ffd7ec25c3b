package models

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Recording link provenance. End action is authoritative over webhook.
const (
	RecordingSourceWebhook   = "webhook"
	RecordingSourceEndAction = "end_action"
)

// Session is one broadcast attempt, which may or may not yield a Recording.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	ExternalStreamID  string     `json:"external_stream_id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	RecordingID       *uuid.UUID `json:"recording_id,omitempty"`
	RecordingAssetID  string     `json:"recording_asset_id,omitempty"`
	RecordingSource   string     `json:"recording_source,omitempty"`
	RecordingLinkedAt *time.Time `json:"recording_linked_at,omitempty"`
	CreatedBy         *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PointsAt reports whether the session's recording slot holds recordingID.
func (s *Session) PointsAt(recordingID uuid.UUID) bool {
	return s.RecordingID != nil && *s.RecordingID == recordingID
}
