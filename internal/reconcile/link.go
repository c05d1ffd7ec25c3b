package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
)

// LinkOutcome is the typed result of a link attempt. None of these are errors.
type LinkOutcome string

const (
	LinkNotRequested     LinkOutcome = "not_requested"
	LinkLinked           LinkOutcome = "linked"
	LinkAlreadyLinked    LinkOutcome = "already_linked"
	LinkConflict         LinkOutcome = "conflict"
	LinkSessionNotFound  LinkOutcome = "session_not_found"
	LinkAmbiguousSession LinkOutcome = "ambiguous_session"
)

// Link is the session-side record of a Session -> Recording association.
// The zero Link is an empty slot.
type Link struct {
	RecordingID uuid.UUID
	AssetID     string
	Source      Source
	LinkedAt    time.Time
}

// Empty reports whether the slot holds no recording.
func (l Link) Empty() bool { return l.RecordingID == uuid.Nil }

// SessionLink reads the link slot of s.
func SessionLink(s *models.Session) Link {
	var l Link
	if s.RecordingID != nil {
		l.RecordingID = *s.RecordingID
	}
	l.AssetID = s.RecordingAssetID
	l.Source = Source(s.RecordingSource)
	if s.RecordingLinkedAt != nil {
		l.LinkedAt = *s.RecordingLinkedAt
	}
	return l
}

// ApplyTo writes l into the link slot of s. An empty link clears the slot.
func (l Link) ApplyTo(s *models.Session) {
	if l.Empty() {
		s.RecordingID = nil
		s.RecordingAssetID = ""
		s.RecordingSource = ""
		s.RecordingLinkedAt = nil
		return
	}
	id := l.RecordingID
	s.RecordingID = &id
	s.RecordingAssetID = l.AssetID
	s.RecordingSource = string(l.Source)
	if l.LinkedAt.IsZero() {
		s.RecordingLinkedAt = nil
	} else {
		at := l.LinkedAt
		s.RecordingLinkedAt = &at
	}
}

// Merge folds an incoming claim into the slot currently holding cur. It returns the next
// slot value, the outcome and, when an authoritative claim displaces another recording,
// that recording's id so its back-reference can be cleaned up.
func (cur Link) Merge(in Link) (Link, LinkOutcome, *uuid.UUID) {
	if cur.Empty() {
		return in, LinkLinked, nil
	}
	if cur.RecordingID != in.RecordingID {
		stale := cur.RecordingID
		if in.Source.Authoritative() {
			return in, LinkLinked, &stale
		}
		if cur.AssetID != "" && cur.AssetID == in.AssetID {
			// Same asset, so the slot holds an older duplicate row. Follow the canonical
			// row and keep the slot's provenance.
			next := cur
			next.RecordingID = in.RecordingID
			if next.Source == "" {
				next.Source = in.Source
			}
			if next.LinkedAt.IsZero() {
				next.LinkedAt = in.LinkedAt
			}
			return next, LinkLinked, &stale
		}
		return cur, LinkConflict, nil
	}
	if cur.AssetID != "" && cur.AssetID != in.AssetID {
		// Same recording re-resolved by the provider under another asset id.
		if !in.Source.Authoritative() {
			return cur, LinkConflict, nil
		}
		return in, LinkLinked, nil
	}
	if in.Source.Authoritative() {
		if cur.Source == in.Source && cur.AssetID == in.AssetID && !cur.LinkedAt.IsZero() {
			return cur, LinkAlreadyLinked, nil
		}
		return in, LinkAlreadyLinked, nil
	}
	next := cur
	if next.AssetID == "" {
		next.AssetID = in.AssetID
	}
	if next.Source == "" {
		next.Source = in.Source
	}
	if next.LinkedAt.IsZero() {
		next.LinkedAt = in.LinkedAt
	}
	return next, LinkAlreadyLinked, nil
}

// mergeBackRef is the recording-side counterpart of Link.Merge for linked_session_id.
func mergeBackRef(cur *uuid.UUID, sessionID uuid.UUID, src Source) (*uuid.UUID, LinkOutcome, *uuid.UUID) {
	id := sessionID
	switch {
	case cur == nil:
		return &id, LinkLinked, nil
	case *cur == sessionID:
		return cur, LinkAlreadyLinked, nil
	case src.Authoritative():
		stale := *cur
		return &id, LinkLinked, &stale
	default:
		return cur, LinkConflict, nil
	}
}

// LinkInput is everything the resolver needs; Session is nil when the target is absent.
type LinkInput struct {
	Session   *models.Session
	Recording models.Recording
	AssetID   string
	Source    Source
	Now       time.Time
}

// LinkPlan is the resolver's decision. Nothing is written when Outcome is a conflict or
// the session was not found.
type LinkPlan struct {
	Outcome LinkOutcome

	// Session is the next session state; only meaningful when SessionChanged.
	Session        models.Session
	SessionChanged bool

	// LinkedSessionID is the recording's next back-reference.
	LinkedSessionID  *uuid.UUID
	RecordingChanged bool

	// StaleRecordingID loses its back-reference iff it still points at this session.
	StaleRecordingID *uuid.UUID
	// StaleSessionID loses its recording slot iff it still points at this recording.
	StaleSessionID *uuid.UUID
}

// ResolveLink decides how to establish the link between in.Session and in.Recording.
// Conflicts on either side are detected before anything is planned, so a conflict never
// produces a partial write.
func ResolveLink(in LinkInput) LinkPlan {
	if in.Session == nil {
		return LinkPlan{Outcome: LinkSessionNotFound, LinkedSessionID: in.Recording.LinkedSessionID}
	}
	claim := Link{
		RecordingID: in.Recording.ID,
		AssetID:     in.AssetID,
		Source:      in.Source,
		LinkedAt:    in.Now,
	}
	cur := SessionLink(in.Session)
	nextLink, sessionOutcome, staleRecording := cur.Merge(claim)
	backRef, recordingOutcome, staleSession := mergeBackRef(in.Recording.LinkedSessionID, in.Session.ID, in.Source)

	if sessionOutcome == LinkConflict || recordingOutcome == LinkConflict {
		return LinkPlan{
			Outcome:         LinkConflict,
			Session:         *in.Session,
			LinkedSessionID: in.Recording.LinkedSessionID,
		}
	}

	plan := LinkPlan{
		Outcome:          LinkAlreadyLinked,
		Session:          *in.Session,
		LinkedSessionID:  backRef,
		StaleRecordingID: staleRecording,
		StaleSessionID:   staleSession,
	}
	if sessionOutcome == LinkLinked || recordingOutcome == LinkLinked {
		plan.Outcome = LinkLinked
	}
	if nextLink != cur {
		nextLink.ApplyTo(&plan.Session)
		plan.SessionChanged = true
	}
	plan.RecordingChanged = in.Recording.LinkedSessionID == nil || *in.Recording.LinkedSessionID != *backRef
	return plan
}
