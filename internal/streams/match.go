package streams

import (
	"time"

	"github.com/aura-webinar/reconciler/internal/models"
)

// MatchResult classifies a stream-id lookup.
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchOne
	MatchAmbiguous
)

func (m MatchResult) String() string {
	switch m {
	case MatchOne:
		return "one"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Match picks the session an externally reported stream id refers to.
//
// Sessions are candidates when at falls inside [started-window, ended+window] (open-ended
// while active); a zero at disables the window. Among candidates, in order:
//  1. a session already linked to assetID (redelivery of a known fact)
//  2. the single unlinked session; several unlinked sessions are ambiguous
//  3. the most recently started session, so the link resolver can report the conflict
//
// When in doubt this returns MatchAmbiguous: no link is better than a wrong link.
func Match(sessions []models.Session, assetID string, at time.Time, window time.Duration) (*models.Session, MatchResult) {
	var inWindow []models.Session
	for _, s := range sessions {
		if at.IsZero() || withinWindow(s, at, window) {
			inWindow = append(inWindow, s)
		}
	}
	if len(inWindow) == 0 {
		return nil, MatchNone
	}
	if assetID != "" {
		for i := range inWindow {
			if inWindow[i].RecordingAssetID == assetID {
				return &inWindow[i], MatchOne
			}
		}
	}
	var unlinked []int
	for i := range inWindow {
		if inWindow[i].RecordingID == nil {
			unlinked = append(unlinked, i)
		}
	}
	switch len(unlinked) {
	case 1:
		return &inWindow[unlinked[0]], MatchOne
	case 0:
		latest := 0
		for i := range inWindow {
			if inWindow[i].StartedAt.After(inWindow[latest].StartedAt) {
				latest = i
			}
		}
		return &inWindow[latest], MatchOne
	default:
		return nil, MatchAmbiguous
	}
}

func withinWindow(s models.Session, at time.Time, window time.Duration) bool {
	if at.Before(s.StartedAt.Add(-window)) {
		return false
	}
	if s.EndedAt == nil {
		return true
	}
	return !at.After(s.EndedAt.Add(window))
}
