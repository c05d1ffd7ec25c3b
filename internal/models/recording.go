package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording readiness values as stored. Ordering lives in package readiness.
const (
	RecordingStatusUploading  = "uploading"
	RecordingStatusProcessing = "processing"
	RecordingStatusReady      = "ready"
)

// Recording is the canonical record of a finished, provider-hosted asset.
// ExternalAssetID is the provider's identifier and the idempotency key.
type Recording struct {
	ID                uuid.UUID  `json:"id"`
	ExternalAssetID   string     `json:"external_asset_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            string     `json:"status"`
	PlaybackReference string     `json:"playback_reference,omitempty"`
	PlaybackURL       string     `json:"playback_url,omitempty"`
	ThumbnailURL      string     `json:"thumbnail_url,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds"`
	Visibility        string     `json:"visibility,omitempty"`
	UploadedBy        string     `json:"uploaded_by,omitempty"`
	LinkedSessionID   *uuid.UUID `json:"linked_session_id,omitempty"`
	Provider          string     `json:"provider,omitempty"`
	ViewCount         int64      `json:"view_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LinkedTo reports whether the recording's back-reference points at sessionID.
func (r *Recording) LinkedTo(sessionID uuid.UUID) bool {
	return r.LinkedSessionID != nil && *r.LinkedSessionID == sessionID
}
