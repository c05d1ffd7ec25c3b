// Package readiness maps provider status vocabulary onto an ordered readiness scale
// and defines monotonic promotion over it.
package readiness

import (
	"strings"

	"github.com/aura-webinar/reconciler/internal/models"
)

// Status is a rank on the readiness lattice: Uploading < Processing < Ready.
type Status int

const (
	Uploading Status = iota
	Processing
	Ready
)

// Default is assumed when a provider status is absent or unrecognized.
const Default = Processing

var synonyms = map[string]Status{
	"uploading":          Uploading,
	"upload":             Uploading,
	"waiting":            Uploading,
	"waiting_for_upload": Uploading,
	"pending_upload":     Uploading,

	"processing":  Processing,
	"preparing":   Processing,
	"created":     Processing,
	"queued":      Processing,
	"transcoding": Processing,
	"encoding":    Processing,

	"ready":     Ready,
	"complete":  Ready,
	"completed": Ready,
	"available": Ready,
	"finished":  Ready,
}

// Normalize maps raw provider vocabulary onto the lattice. Unknown or empty input yields Default.
func Normalize(raw string) Status {
	if s, ok := synonyms[vocabKey(raw)]; ok {
		return s
	}
	return Default
}

var separators = strings.NewReplacer("-", "_", " ", "_")

func vocabKey(raw string) string {
	return separators.Replace(strings.ToLower(strings.TrimSpace(raw)))
}

// Parse reads a stored canonical status value.
func Parse(stored string) Status {
	switch stored {
	case models.RecordingStatusUploading:
		return Uploading
	case models.RecordingStatusReady:
		return Ready
	default:
		return Processing
	}
}

// Rank returns the numeric position on the lattice.
func (s Status) Rank() int { return int(s) }

func (s Status) String() string {
	switch s {
	case Uploading:
		return models.RecordingStatusUploading
	case Ready:
		return models.RecordingStatusReady
	default:
		return models.RecordingStatusProcessing
	}
}

// Promote returns the higher of current and incoming and whether it moved.
// A lower or equal incoming rank is a no-op.
func Promote(current, incoming Status) (Status, bool) {
	if incoming.Rank() > current.Rank() {
		return incoming, true
	}
	return current, false
}
