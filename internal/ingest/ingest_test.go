package ingest

import (
	"bytes"
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
	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/reconciler/internal/auth"
	"github.com/aura-webinar/reconciler/internal/middleware"
	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/internal/reconcile"
	"github.com/aura-webinar/reconciler/pkg/queue"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeQueue struct {
	jobs []any
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, _ queue.JobType, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, payload)
	return "job-1", nil
}

type failingEngine struct{ err error }

func (f failingEngine) ReportWebhookAsset(context.Context, reconcile.WebhookAsset) (reconcile.Result, error) {
	return reconcile.Result{}, f.err
}

func (f failingEngine) ReportEndAction(context.Context, auth.Principal, reconcile.EndAction) (reconcile.Result, error) {
	return reconcile.Result{}, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func post(r *gin.Engine, target string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func newStoreEngine(t *testing.T) (*reconcile.MemoryStore, *reconcile.Engine) {
	store := reconcile.NewMemoryStore()
	return store, reconcile.NewEngine(store, store, reconcile.Options{
		Provider: "mux",
		Deriver:  reconcile.Deriver{PlaybackBaseURL: "https://stream.example.com"},
	}, zaptest.NewLogger(t))
}

func webhookRouter(h *WebhookHandler) *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/recording-asset", h.RecordingAsset)
	return r
}

func delivery(t *testing.T, id, typ string, data AssetData) []byte {
	t.Helper()
	b, err := json.Marshal(AssetEvent{ID: id, Type: typ, CreatedAt: time.Now().UTC(), Data: data})
	require.NoError(t, err)
	return b
}

func TestWebhook_ReconcilesDelivery(t *testing.T) {
	store, eng := newStoreEngine(t)
	r := webhookRouter(NewWebhookHandler(eng, &fakeQueue{}, WebhookConfig{EventPrefix: "video.asset."}, nil))

	w, env := post(r, "/webhooks/recording-asset", delivery(t, "d1", "video.asset.ready", AssetData{
		ID: "a1", PlaybackID: "p1", Status: "ready", Duration: reconcile.Ptr(42.0),
	}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, reconcile.ActionInserted, res.Action)
	assert.Equal(t, "d1", res.CorrelationID)

	rec, err := store.GetRecording(context.Background(), res.RecordingID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.RecordingStatusReady, rec.Status)
	assert.Equal(t, "https://stream.example.com/p1.m3u8", rec.PlaybackURL)
	assert.Equal(t, 42.0, rec.DurationSeconds)
}

func TestWebhook_PassthroughLinksSession(t *testing.T) {
	store, eng := newStoreEngine(t)
	sess := models.Session{ExternalStreamID: "ls1"}
	require.NoError(t, store.CreateSession(context.Background(), &sess))
	r := webhookRouter(NewWebhookHandler(eng, nil, WebhookConfig{}, nil))

	w, env := post(r, "/webhooks/recording-asset", delivery(t, "d1", "video.asset.created", AssetData{
		ID: "a1", Passthrough: `{"session_id":"` + sess.ID.String() + `"}`,
	}), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, reconcile.LinkLinked, res.LinkOutcome)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	store, eng := newStoreEngine(t)
	r := webhookRouter(NewWebhookHandler(eng, nil, WebhookConfig{EventPrefix: "video.asset.", IgnoredEvents: []string{"video.asset.deleted"}}, nil))

	for _, typ := range []string{"video.live_stream.active", "video.asset.deleted"} {
		w, _ := post(r, "/webhooks/recording-asset", delivery(t, "d1", typ, AssetData{ID: "a1"}), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	recs, err := store.RecordingsByAsset(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWebhook_BadInput(t *testing.T) {
	_, eng := newStoreEngine(t)
	r := webhookRouter(NewWebhookHandler(eng, nil, WebhookConfig{}, nil))

	w, _ := post(r, "/webhooks/recording-asset", []byte(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = post(r, "/webhooks/recording-asset", delivery(t, "d1", "video.asset.ready", AssetData{}), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_Signature(t *testing.T) {
	_, eng := newStoreEngine(t)
	h := NewWebhookHandler(eng, nil, WebhookConfig{Secret: "s3cret", Tolerance: 5 * time.Minute}, nil)
	r := webhookRouter(h)
	body := delivery(t, "d1", "video.asset.ready", AssetData{ID: "a1"})

	w, _ := post(r, "/webhooks/recording-asset", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = post(r, "/webhooks/recording-asset", body, map[string]string{HeaderSignature: Sign("s3cret", time.Now(), body)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_TransientFailureIsQueued(t *testing.T) {
	q := &fakeQueue{}
	r := webhookRouter(NewWebhookHandler(failingEngine{err: errors.New("connection reset")}, q, WebhookConfig{}, nil))

	w, env := post(r, "/webhooks/recording-asset", delivery(t, "d7", "video.asset.ready", AssetData{ID: "a1", Status: "ready"}), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, env.Success)
	require.Len(t, q.jobs, 1)
	call, ok := q.jobs[0].(reconcile.Call)
	require.True(t, ok)
	assert.Equal(t, reconcile.SourceWebhook, call.Source)
	assert.Equal(t, "a1", call.ExternalAssetID)
	assert.Equal(t, "d7", call.CorrelationID)
	require.NotNil(t, call.Facts.ReadinessStatus)
	assert.Equal(t, "ready", *call.Facts.ReadinessStatus)
}

func TestWebhook_QueuedCallKeepsReceiveTime(t *testing.T) {
	q := &fakeQueue{}
	h := NewWebhookHandler(failingEngine{err: errors.New("connection reset")}, q, WebhookConfig{}, nil)
	received := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	h.now = func() time.Time { return received }

	body, err := json.Marshal(map[string]any{"id": "d8", "type": "video.asset.ready", "data": map[string]any{"id": "a1", "live_stream_id": "ls1"}})
	require.NoError(t, err)
	w, _ := post(webhookRouter(h), "/webhooks/recording-asset", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.jobs, 1)
	call := q.jobs[0].(reconcile.Call)
	assert.Equal(t, received, call.ReportedAt)
	assert.Equal(t, "ls1", call.ExternalStreamID)
}

func TestWebhook_TransientFailureWithoutQueue(t *testing.T) {
	boom := errors.New("connection reset")
	for name, q := range map[string]RetryQueue{"no queue": nil, "queue down": &fakeQueue{err: boom}} {
		t.Run(name, func(t *testing.T) {
			r := webhookRouter(NewWebhookHandler(failingEngine{err: boom}, q, WebhookConfig{}, nil))
			w, _ := post(r, "/webhooks/recording-asset", delivery(t, "d1", "video.asset.ready", AssetData{ID: "a1"}), nil)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}

func TestPassthroughSession(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, &id, passthroughSession(id.String()))
	assert.Equal(t, &id, passthroughSession(`{"session_id":"`+id.String()+`"}`))
	assert.Nil(t, passthroughSession(""))
	assert.Nil(t, passthroughSession("webinar-42"))
	assert.Nil(t, passthroughSession(`{"session_id":"x"}`))
}

func endRouter(h *EndActionHandler, p auth.Principal) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if !p.IsZero() {
			c.Set(middleware.ContextPrincipal, p)
		}
	})
	r.POST("/sessions/:id/end", h.EndBroadcast)
	return r
}

func TestEndBroadcast_LinksSession(t *testing.T) {
	store, eng := newStoreEngine(t)
	sess := models.Session{ExternalStreamID: "ls1"}
	require.NoError(t, store.CreateSession(context.Background(), &sess))
	op := auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator}
	r := endRouter(NewEndActionHandler(eng, nil), op)

	w, env := post(r, "/sessions/"+sess.ID.String()+"/end", []byte(`{"asset_id":"a2","title":"Set 1","duration":12}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, reconcile.LinkLinked, res.LinkOutcome)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, got.PointsAt(res.RecordingID))
	assert.Equal(t, models.SessionStatusEnded, got.Status)
}

func TestEndBroadcast_Errors(t *testing.T) {
	_, eng := newStoreEngine(t)
	op := auth.Principal{UserID: uuid.New(), Role: auth.RoleOperator}
	sid := uuid.NewString()

	w, _ := post(endRouter(NewEndActionHandler(eng, nil), auth.Principal{}), "/sessions/"+sid+"/end", []byte(`{"asset_id":"a1"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = post(endRouter(NewEndActionHandler(eng, nil), op), "/sessions/nope/end", []byte(`{"asset_id":"a1"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = post(endRouter(NewEndActionHandler(eng, nil), op), "/sessions/"+sid+"/end", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = post(endRouter(NewEndActionHandler(failingEngine{err: errors.New("timeout")}, nil), op), "/sessions/"+sid+"/end", []byte(`{"asset_id":"a1"}`), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
