package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingEvent is published after a reconcile call commits.
type RecordingEvent struct {
	RecordingID     uuid.UUID  `json:"recording_id"`
	SessionID       *uuid.UUID `json:"session_id,omitempty"`
	ExternalAssetID string     `json:"external_asset_id"`
	Status          string     `json:"status"`
	PlaybackURL     string     `json:"playback_url,omitempty"`
	Action          string     `json:"action"`
	LinkOutcome     string     `json:"link_outcome"`
	Source          string     `json:"source"`
	CorrelationID   string     `json:"correlation_id"`
	At              time.Time  `json:"at"`
}
