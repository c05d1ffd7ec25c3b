package recordings_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/entitlements"
	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/internal/recordings"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	store     *reconcile.MemoryStore
	grants    *entitlements.MemoryRepository
	bundler   *entitlements.Bundler
	session   models.Session
	recording uuid.UUID
}

// newFixture links session -> recording for asset a1 and marks the recording ready.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := reconcile.NewMemoryStore()
	grants := entitlements.NewMemoryRepository()
	eng := reconcile.NewEngine(store, nil, reconcile.Options{
		Deriver: reconcile.Deriver{PlaybackBaseURL: "https://stream.mux.com"},
	}, nil)

	s := models.Session{ExternalStreamID: "ls1", StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.CreateSession(ctx, &s))
	op := auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator}
	res, err := eng.ReportEndAction(ctx, op, reconcile.EndAction{ExternalAssetID: "a1", SessionID: s.ID, PlaybackReference: "paid"})
	require.NoError(t, err)
	require.Equal(t, reconcile.LinkLinked, res.LinkOutcome)
	_, err = eng.ReportWebhookAsset(ctx, reconcile.WebhookAsset{ExternalAssetID: "a1", ReadinessStatus: "ready"})
	require.NoError(t, err)

	return &fixture{
		store:     store,
		grants:    grants,
		bundler:   entitlements.NewBundler(store, grants, nil),
		session:   s,
		recording: res.RecordingID,
	}
}

func (f *fixture) grant(t *testing.T, user uuid.UUID, kind string, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.grants.Grant(context.Background(), &models.Entitlement{UserID: user, ItemKind: kind, ItemID: id}))
}

func newRouter(reader recordings.Reader, access recordings.Access, p auth.Principal) *gin.Engine {
	h := recordings.NewHandler(reader, access, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if !p.IsZero() {
			c.Set(middleware.ContextPrincipal, p)
		}
	})
	r.GET("/recordings/:id", h.Get)
	r.GET("/recordings/by-asset/:asset_id", h.ByAsset)
	return r
}

func get(r *gin.Engine, target string) (int, json.RawMessage) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env.Data
}

func viewer() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: auth.RoleViewer}
}

func TestHandler_StaffReadsAnyRecording(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f.store, f.bundler, auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator})

	code, data := get(r, "/recordings/"+f.recording.String())
	require.Equal(t, http.StatusOK, code)
	var rec models.Recording
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, models.RecordingStatusReady, rec.Status)
	assert.Equal(t, "https://stream.mux.com/paid.m3u8", rec.PlaybackURL)

	code, data = get(r, "/recordings/by-asset/a1")
	require.Equal(t, http.StatusOK, code)
	var byAsset struct {
		Recording  models.Recording `json:"recording"`
		Duplicates int              `json:"duplicates"`
	}
	require.NoError(t, json.Unmarshal(data, &byAsset))
	assert.Equal(t, f.recording, byAsset.Recording.ID)
	assert.Zero(t, byAsset.Duplicates)

	code, _ = get(r, "/recordings/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(r, "/recordings/nope")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(r, "/recordings/by-asset/zz")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_ViewerWithoutEntitlementIsForbidden(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f.store, f.bundler, viewer())

	code, data := get(r, "/recordings/"+f.recording.String())
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotContains(t, string(data), "paid.m3u8")

	code, data = get(r, "/recordings/by-asset/a1")
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotContains(t, string(data), "paid.m3u8")
}

func TestHandler_ViewerWithEntitlementReads(t *testing.T) {
	cases := map[string]func(f *fixture) (string, uuid.UUID){
		"direct recording grant":  func(f *fixture) (string, uuid.UUID) { return models.ItemKindRecording, f.recording },
		"bundled via the session": func(f *fixture) (string, uuid.UUID) { return models.ItemKindSession, f.session.ID },
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			p := viewer()
			kind, id := item(f)
			f.grant(t, p.UserID, kind, id)
			r := newRouter(f.store, f.bundler, p)

			code, data := get(r, "/recordings/"+f.recording.String())
			require.Equal(t, http.StatusOK, code)
			var rec models.Recording
			require.NoError(t, json.Unmarshal(data, &rec))
			assert.Equal(t, "https://stream.mux.com/paid.m3u8", rec.PlaybackURL)

			code, _ = get(r, "/recordings/by-asset/a1")
			assert.Equal(t, http.StatusOK, code)
		})
	}
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f.store, f.bundler, auth.Principal{})
	code, _ := get(r, "/recordings/"+f.recording.String())
	assert.Equal(t, http.StatusUnauthorized, code)
}

type failingAccess struct{}

func (failingAccess) HasRecordingEntitlement(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, errors.New("db down")
}

func TestHandler_EntitlementErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f.store, failingAccess{}, viewer())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recordings/"+f.recording.String(), nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}
