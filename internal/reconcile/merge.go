package reconcile

import (
	"strings"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/readiness"
)

// Deriver computes the fields derived from a playback reference.
type Deriver struct {
	PlaybackBaseURL  string // e.g. https://stream.mux.com
	ThumbnailBaseURL string // e.g. https://image.mux.com
}

// PlaybackURL returns the HLS URL for ref, or "" when unconfigured.
func (d Deriver) PlaybackURL(ref string) string {
	if ref == "" || d.PlaybackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(d.PlaybackBaseURL, "/") + "/" + ref + ".m3u8"
}

// ThumbnailURL returns the poster image URL for ref, or "" when unconfigured.
func (d Deriver) ThumbnailURL(ref string) string {
	if ref == "" || d.ThumbnailBaseURL == "" {
		return ""
	}
	return strings.TrimRight(d.ThumbnailBaseURL, "/") + "/" + ref + "/thumbnail.jpg"
}

// NewRecording builds the first Recording ever observed for assetID. ID and timestamps
// are left for the caller.
func NewRecording(assetID string, f Facts, provider string, d Deriver) models.Recording {
	status := readiness.Default
	if f.ReadinessStatus != nil {
		status = readiness.Normalize(*f.ReadinessStatus)
	}
	rec := models.Recording{
		ExternalAssetID: assetID,
		Status:          status.String(),
		Provider:        provider,
	}
	if f.Title != nil {
		rec.Title = *f.Title
	}
	if f.Description != nil {
		rec.Description = *f.Description
	}
	if f.PlaybackReference != nil {
		rec.PlaybackReference = *f.PlaybackReference
		rec.PlaybackURL = d.PlaybackURL(rec.PlaybackReference)
		rec.ThumbnailURL = d.ThumbnailURL(rec.PlaybackReference)
	}
	if f.DurationSeconds != nil && *f.DurationSeconds > 0 {
		rec.DurationSeconds = *f.DurationSeconds
	}
	if f.Visibility != nil {
		rec.Visibility = *f.Visibility
	}
	if f.UploadedBy != nil {
		rec.UploadedBy = *f.UploadedBy
	}
	return rec
}

// MergeRecording folds incoming facts into cur using field-level rules and returns the
// next state, whether anything changed, and any rejected claims. It never touches the
// link back-reference.
//
//   - title, description: only the authoritative source overwrites; others fill blanks
//   - playback reference: first writer wins; a different value is a conflict
//   - duration: monotonic maximum
//   - readiness: promoted along the lattice only
//   - visibility, uploaded by, provider: set if missing
func MergeRecording(cur models.Recording, f Facts, src Source, provider string, d Deriver) (models.Recording, bool, []Conflict) {
	next := cur
	changed := false
	var conflicts []Conflict

	setText := func(dst *string, v *string, overwrite bool) {
		if v == nil || *v == *dst {
			return
		}
		if *dst == "" || overwrite {
			*dst = *v
			changed = true
		}
	}
	setText(&next.Title, f.Title, src.Authoritative())
	setText(&next.Description, f.Description, src.Authoritative())

	if f.PlaybackReference != nil && *f.PlaybackReference != "" {
		ref := *f.PlaybackReference
		switch next.PlaybackReference {
		case "", ref:
			next.PlaybackReference = ref
			next.PlaybackURL = d.PlaybackURL(ref)
			next.ThumbnailURL = d.ThumbnailURL(ref)
			if next.PlaybackReference != cur.PlaybackReference ||
				next.PlaybackURL != cur.PlaybackURL ||
				next.ThumbnailURL != cur.ThumbnailURL {
				changed = true
			}
		default:
			conflicts = append(conflicts, Conflict{
				Field:    "playback_reference",
				Current:  next.PlaybackReference,
				Incoming: ref,
			})
		}
	}

	if f.DurationSeconds != nil && *f.DurationSeconds > next.DurationSeconds {
		next.DurationSeconds = *f.DurationSeconds
		changed = true
	}

	if f.ReadinessStatus != nil {
		promoted, moved := readiness.Promote(readiness.Parse(next.Status), readiness.Normalize(*f.ReadinessStatus))
		if moved {
			next.Status = promoted.String()
			changed = true
		}
	}

	setText(&next.Visibility, f.Visibility, false)
	setText(&next.UploadedBy, f.UploadedBy, false)
	if next.Provider == "" && provider != "" {
		next.Provider = provider
		changed = true
	}
	return next, changed, conflicts
}
