// Package entitlements answers whether a user may access a recording or session, following
// the Session <-> Recording link to a counterpart the user is directly entitled to.
package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/reconciler/internal/models"
)

// ErrUnknownKind is returned for item kinds other than recording and session.
var ErrUnknownKind = errors.New("unknown item kind")

// ItemRef names one entitlement-bearing item.
type ItemRef struct {
	Kind string    `json:"item_kind"`
	ID   uuid.UUID `json:"item_id"`
}

// LinkReader reads both sides of a link.
type LinkReader interface {
	GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Checker reports direct entitlements.
type Checker interface {
	Has(ctx context.Context, userID uuid.UUID, kind string, itemID uuid.UUID) (bool, error)
}

// Bundler grants access transitively across a linked Session/Recording pair.
type Bundler struct {
	links  LinkReader
	grants Checker
	logger *zap.Logger
}

// NewBundler creates a bundler.
func NewBundler(links LinkReader, grants Checker, logger *zap.Logger) *Bundler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bundler{links: links, grants: grants, logger: logger}
}

// HasBundledEntitlement reports whether userID holds a direct entitlement on item or on
// the item's linked counterpart. The counterpart only counts when both sides of the link
// point at each other.
func (b *Bundler) HasBundledEntitlement(ctx context.Context, userID uuid.UUID, item ItemRef) (bool, error) {
	if item.Kind != models.ItemKindRecording && item.Kind != models.ItemKindSession {
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
	}
	ok, err := b.grants.Has(ctx, userID, item.Kind, item.ID)
	if err != nil {
		return false, fmt.Errorf("direct entitlement: %w", err)
	}
	if ok {
		return true, nil
	}
	counterpart, err := b.counterpart(ctx, item)
	if err != nil || counterpart == nil {
		return false, err
	}
	ok, err = b.grants.Has(ctx, userID, counterpart.Kind, counterpart.ID)
	if err != nil {
		return false, fmt.Errorf("bundled entitlement: %w", err)
	}
	return ok, nil
}

// HasRecordingEntitlement is HasBundledEntitlement for a recording.
func (b *Bundler) HasRecordingEntitlement(ctx context.Context, userID, recordingID uuid.UUID) (bool, error) {
	return b.HasBundledEntitlement(ctx, userID, ItemRef{Kind: models.ItemKindRecording, ID: recordingID})
}

func (b *Bundler) counterpart(ctx context.Context, item ItemRef) (*ItemRef, error) {
	switch item.Kind {
	case models.ItemKindRecording:
		rec, err := b.links.GetRecording(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("get recording: %w", err)
		}
		if rec == nil || rec.LinkedSessionID == nil {
			return nil, nil
		}
		sess, err := b.links.GetSession(ctx, *rec.LinkedSessionID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if sess == nil || !sess.PointsAt(rec.ID) {
			b.halfLink(rec.ID, *rec.LinkedSessionID)
			return nil, nil
		}
		return &ItemRef{Kind: models.ItemKindSession, ID: sess.ID}, nil
	default:
		sess, err := b.links.GetSession(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if sess == nil || sess.RecordingID == nil {
			return nil, nil
		}
		rec, err := b.links.GetRecording(ctx, *sess.RecordingID)
		if err != nil {
			return nil, fmt.Errorf("get recording: %w", err)
		}
		if rec == nil || !rec.LinkedTo(sess.ID) {
			b.halfLink(*sess.RecordingID, sess.ID)
			return nil, nil
		}
		return &ItemRef{Kind: models.ItemKindRecording, ID: rec.ID}, nil
	}
}

func (b *Bundler) halfLink(recordingID, sessionID uuid.UUID) {
	b.logger.Warn("half link ignored for entitlement",
		zap.String("recording_id", recordingID.String()),
		zap.String("session_id", sessionID.String()))
}
