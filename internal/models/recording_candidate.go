package models

import "time"

// RecordingCandidate is a diagnostic trace of every fact observed for an external asset.
// It is never consulted when reconciling.
type RecordingCandidate struct {
	ExternalAssetID   string    `json:"external_asset_id"`
	SourceEventTypes  []string  `json:"source_event_types"`
	LastCorrelationID string    `json:"last_correlation_id,omitempty"`
	LastOutcome       string    `json:"last_outcome,omitempty"`
	SeenCount         int64     `json:"seen_count"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
}

// CandidateObservation is one inbound fact as recorded by the tracker.
type CandidateObservation struct {
	ExternalAssetID string
	Source          string
	EventType       string
	CorrelationID   string
	Outcome         string
	ObservedAt      time.Time
}

// SourceEventType is the deduplication key stored in SourceEventTypes.
func (o CandidateObservation) SourceEventType() string {
	return o.Source + ":" + o.EventType
}
