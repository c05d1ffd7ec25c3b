package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/reconcile"
)

type linkFixture struct {
	store   *reconcile.MemoryStore
	grants  *MemoryRepository
	bundler *Bundler
	engine  *reconcile.Engine
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	store := reconcile.NewMemoryStore()
	grants := NewMemoryRepository()
	return &linkFixture{
		store:   store,
		grants:  grants,
		bundler: NewBundler(store, grants, nil),
		engine:  reconcile.NewEngine(store, store, reconcile.Options{Provider: "mux"}, nil),
	}
}

// endBroadcast links a new session to a recording through the end action.
func (f *linkFixture) endBroadcast(t *testing.T, assetID string) (models.Session, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	s := models.Session{ExternalStreamID: "ls-" + assetID, StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, f.store.CreateSession(ctx, &s))
	op := auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator}
	res, err := f.engine.ReportEndAction(ctx, op, reconcile.EndAction{ExternalAssetID: assetID, SessionID: s.ID, Title: "Set 1"})
	require.NoError(t, err)
	require.Equal(t, reconcile.LinkLinked, res.LinkOutcome)
	return s, res.RecordingID
}

func (f *linkFixture) grant(t *testing.T, user uuid.UUID, kind string, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.grants.Grant(context.Background(), &models.Entitlement{UserID: user, ItemKind: kind, ItemID: id, Source: "checkout"}))
}

func TestScenarioC_SessionEntitlementCoversRecording(t *testing.T) {
	f := newLinkFixture(t)
	s1, v := f.endBroadcast(t, "a2")
	user := uuid.New()
	f.grant(t, user, models.ItemKindSession, s1.ID)

	ok, err := f.bundler.HasBundledEntitlement(context.Background(), user, ItemRef{Kind: models.ItemKindRecording, ID: v})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.bundler.HasBundledEntitlement(context.Background(), uuid.New(), ItemRef{Kind: models.ItemKindRecording, ID: v})
	require.NoError(t, err)
	assert.False(t, ok, "other users get nothing")
}

func TestBundler_RecordingEntitlementCoversSession(t *testing.T) {
	f := newLinkFixture(t)
	s1, v := f.endBroadcast(t, "a2")
	user := uuid.New()
	f.grant(t, user, models.ItemKindRecording, v)

	ok, err := f.bundler.HasBundledEntitlement(context.Background(), user, ItemRef{Kind: models.ItemKindSession, ID: s1.ID})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBundler_DirectEntitlement(t *testing.T) {
	f := newLinkFixture(t)
	user, item := uuid.New(), uuid.New()
	f.grant(t, user, models.ItemKindRecording, item)

	ok, err := f.bundler.HasBundledEntitlement(context.Background(), user, ItemRef{Kind: models.ItemKindRecording, ID: item})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBundler_RelinkedSessionNoLongerBundlesOldRecording(t *testing.T) {
	f := newLinkFixture(t)
	ctx := context.Background()
	s1, oldRec := f.endBroadcast(t, "a1")
	op := auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator}
	_, err := f.engine.ReportEndAction(ctx, op, reconcile.EndAction{ExternalAssetID: "b1", SessionID: s1.ID})
	require.NoError(t, err)

	user := uuid.New()
	f.grant(t, user, models.ItemKindSession, s1.ID)
	ok, err := f.bundler.HasBundledEntitlement(ctx, user, ItemRef{Kind: models.ItemKindRecording, ID: oldRec})
	require.NoError(t, err)
	assert.False(t, ok)
}

type staticLinks struct {
	rec  *models.Recording
	sess *models.Session
	err  error
}

func (s staticLinks) GetRecording(context.Context, uuid.UUID) (*models.Recording, error) {
	return s.rec, s.err
}

func (s staticLinks) GetSession(context.Context, uuid.UUID) (*models.Session, error) {
	return s.sess, s.err
}

func TestBundler_HalfLinkNeverGrants(t *testing.T) {
	sessID, recID, otherRec := uuid.New(), uuid.New(), uuid.New()
	user := uuid.New()
	grants := NewMemoryRepository()
	require.NoError(t, grants.Grant(context.Background(), &models.Entitlement{UserID: user, ItemKind: models.ItemKindSession, ItemID: sessID}))

	links := staticLinks{
		rec:  &models.Recording{ID: recID, LinkedSessionID: &sessID},
		sess: &models.Session{ID: sessID, RecordingID: &otherRec},
	}
	ok, err := NewBundler(links, grants, nil).HasBundledEntitlement(context.Background(), user, ItemRef{Kind: models.ItemKindRecording, ID: recID})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBundler_Errors(t *testing.T) {
	b := NewBundler(staticLinks{err: errors.New("db down")}, NewMemoryRepository(), nil)

	_, err := b.HasBundledEntitlement(context.Background(), uuid.New(), ItemRef{Kind: "course", ID: uuid.New()})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = b.HasBundledEntitlement(context.Background(), uuid.New(), ItemRef{Kind: models.ItemKindRecording, ID: uuid.New()})
	assert.ErrorContains(t, err, "db down")
}
