package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/reconciler/internal/models"
)

var linkNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func linkedSession(recordingID uuid.UUID, assetID string, src Source) *models.Session {
	s := &models.Session{ID: uuid.New(), ExternalStreamID: "ls1", Status: models.SessionStatusActive}
	Link{RecordingID: recordingID, AssetID: assetID, Source: src, LinkedAt: linkNow.Add(-time.Hour)}.ApplyTo(s)
	return s
}

func TestResolveLink_SessionNotFound(t *testing.T) {
	rec := models.Recording{ID: uuid.New(), ExternalAssetID: "a1"}
	plan := ResolveLink(LinkInput{Recording: rec, AssetID: "a1", Source: SourceEndAction, Now: linkNow})
	assert.Equal(t, LinkSessionNotFound, plan.Outcome)
	assert.False(t, plan.SessionChanged)
	assert.False(t, plan.RecordingChanged)
}

func TestResolveLink_EmptySessionLinks(t *testing.T) {
	for _, src := range []Source{SourceWebhook, SourceEndAction} {
		t.Run(string(src), func(t *testing.T) {
			sess := &models.Session{ID: uuid.New()}
			rec := models.Recording{ID: uuid.New(), ExternalAssetID: "a1"}
			plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: src, Now: linkNow})

			assert.Equal(t, LinkLinked, plan.Outcome)
			require.True(t, plan.SessionChanged)
			assert.True(t, plan.Session.PointsAt(rec.ID))
			assert.Equal(t, "a1", plan.Session.RecordingAssetID)
			assert.Equal(t, string(src), plan.Session.RecordingSource)
			assert.Equal(t, linkNow, *plan.Session.RecordingLinkedAt)
			require.True(t, plan.RecordingChanged)
			assert.Equal(t, sess.ID, *plan.LinkedSessionID)
			assert.Nil(t, plan.StaleRecordingID)
			assert.Nil(t, plan.StaleSessionID)
		})
	}
}

func TestResolveLink_WebhookCannotRelinkSession(t *testing.T) {
	old := uuid.New()
	sess := linkedSession(old, "a1", SourceEndAction)
	rec := models.Recording{ID: uuid.New(), ExternalAssetID: "b1"}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "b1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkConflict, plan.Outcome)
	assert.False(t, plan.SessionChanged)
	assert.False(t, plan.RecordingChanged)
	assert.Nil(t, plan.StaleRecordingID)
}

func TestResolveLink_EndActionRelinksAndSchedulesStaleClear(t *testing.T) {
	old := uuid.New()
	sess := linkedSession(old, "a1", SourceWebhook)
	rec := models.Recording{ID: uuid.New(), ExternalAssetID: "b1"}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "b1", Source: SourceEndAction, Now: linkNow})
	assert.Equal(t, LinkLinked, plan.Outcome)
	require.True(t, plan.SessionChanged)
	assert.True(t, plan.Session.PointsAt(rec.ID))
	assert.Equal(t, "b1", plan.Session.RecordingAssetID)
	assert.Equal(t, models.RecordingSourceEndAction, plan.Session.RecordingSource)
	require.NotNil(t, plan.StaleRecordingID)
	assert.Equal(t, old, *plan.StaleRecordingID)
}

func TestResolveLink_AssetReResolution(t *testing.T) {
	recID := uuid.New()
	rec := models.Recording{ID: recID, ExternalAssetID: "a2"}

	sess := linkedSession(recID, "a1", SourceWebhook)
	rec.LinkedSessionID = &sess.ID
	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a2", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkConflict, plan.Outcome)

	plan = ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a2", Source: SourceEndAction, Now: linkNow})
	assert.Equal(t, LinkLinked, plan.Outcome)
	assert.Equal(t, "a2", plan.Session.RecordingAssetID)
	assert.Nil(t, plan.StaleRecordingID)
	assert.False(t, plan.RecordingChanged)
}

func TestResolveLink_WebhookFollowsCanonicalDuplicate(t *testing.T) {
	older := uuid.New()
	sess := linkedSession(older, "a1", SourceEndAction)
	canonical := models.Recording{ID: uuid.New(), ExternalAssetID: "a1"}

	plan := ResolveLink(LinkInput{Session: sess, Recording: canonical, AssetID: "a1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkLinked, plan.Outcome)
	require.True(t, plan.SessionChanged)
	assert.True(t, plan.Session.PointsAt(canonical.ID))
	assert.Equal(t, models.RecordingSourceEndAction, plan.Session.RecordingSource, "provenance is kept")
	assert.Equal(t, linkNow.Add(-time.Hour), *plan.Session.RecordingLinkedAt)
	require.NotNil(t, plan.StaleRecordingID)
	assert.Equal(t, older, *plan.StaleRecordingID)
	require.True(t, plan.RecordingChanged)
	assert.Equal(t, sess.ID, *plan.LinkedSessionID)

	// A canonical row already claimed by another session is still a conflict.
	other := uuid.New()
	canonical.LinkedSessionID = &other
	plan = ResolveLink(LinkInput{Session: sess, Recording: canonical, AssetID: "a1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkConflict, plan.Outcome)
	assert.False(t, plan.SessionChanged)
}

func TestResolveLink_WebhookOnlyFillsEmptyFields(t *testing.T) {
	recID := uuid.New()
	sess := &models.Session{ID: uuid.New(), RecordingID: &recID}
	rec := models.Recording{ID: recID, ExternalAssetID: "a1", LinkedSessionID: &sess.ID}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkAlreadyLinked, plan.Outcome)
	require.True(t, plan.SessionChanged)
	assert.Equal(t, "a1", plan.Session.RecordingAssetID)
	assert.Equal(t, models.RecordingSourceWebhook, plan.Session.RecordingSource)
	assert.Equal(t, linkNow, *plan.Session.RecordingLinkedAt)
}

func TestResolveLink_WebhookNeverOverwritesEndActionProvenance(t *testing.T) {
	recID := uuid.New()
	sess := linkedSession(recID, "a1", SourceEndAction)
	rec := models.Recording{ID: recID, ExternalAssetID: "a1", LinkedSessionID: &sess.ID}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkAlreadyLinked, plan.Outcome)
	assert.False(t, plan.SessionChanged)
	assert.False(t, plan.RecordingChanged)
}

func TestResolveLink_EndActionRefreshesWebhookLink(t *testing.T) {
	recID := uuid.New()
	sess := linkedSession(recID, "a1", SourceWebhook)
	rec := models.Recording{ID: recID, ExternalAssetID: "a1", LinkedSessionID: &sess.ID}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceEndAction, Now: linkNow})
	assert.Equal(t, LinkAlreadyLinked, plan.Outcome)
	require.True(t, plan.SessionChanged)
	assert.Equal(t, models.RecordingSourceEndAction, plan.Session.RecordingSource)
	assert.Equal(t, linkNow, *plan.Session.RecordingLinkedAt)

	sess = &plan.Session
	plan = ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceEndAction, Now: linkNow.Add(time.Minute)})
	assert.Equal(t, LinkAlreadyLinked, plan.Outcome)
	assert.False(t, plan.SessionChanged)
}

func TestResolveLink_RecordingSideSymmetry(t *testing.T) {
	other := uuid.New()
	sess := &models.Session{ID: uuid.New()}
	rec := models.Recording{ID: uuid.New(), ExternalAssetID: "a1", LinkedSessionID: &other}

	plan := ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceWebhook, Now: linkNow})
	assert.Equal(t, LinkConflict, plan.Outcome)
	assert.False(t, plan.SessionChanged, "a recording-side conflict must not write the session side either")

	plan = ResolveLink(LinkInput{Session: sess, Recording: rec, AssetID: "a1", Source: SourceEndAction, Now: linkNow})
	assert.Equal(t, LinkLinked, plan.Outcome)
	require.NotNil(t, plan.StaleSessionID)
	assert.Equal(t, other, *plan.StaleSessionID)
	assert.Equal(t, sess.ID, *plan.LinkedSessionID)
	assert.True(t, plan.RecordingChanged)
}

func TestLink_ApplyEmptyClearsSlot(t *testing.T) {
	sess := linkedSession(uuid.New(), "a1", SourceEndAction)
	Link{}.ApplyTo(sess)
	assert.Nil(t, sess.RecordingID)
	assert.Empty(t, sess.RecordingAssetID)
	assert.Empty(t, sess.RecordingSource)
	assert.Nil(t, sess.RecordingLinkedAt)
	assert.True(t, SessionLink(sess).Empty())
}
