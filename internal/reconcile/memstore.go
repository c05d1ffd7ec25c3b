package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
)

// MemoryStore is an in-process Store, Tracker and read model. InTx serialises calls and
// commits staged changes only when fn succeeds. Used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu         sync.Mutex
	recordings map[uuid.UUID]memRecording
	sessions   map[uuid.UUID]models.Session
	candidates map[string]models.RecordingCandidate
	seq        int64
	now        func() time.Time
}

type memRecording struct {
	rec models.Recording
	seq int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordings: map[uuid.UUID]memRecording{},
		sessions:   map[uuid.UUID]models.Session{},
		candidates: map[string]models.RecordingCandidate{},
		now:        time.Now,
	}
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		store:      s,
		recordings: make(map[uuid.UUID]memRecording, len(s.recordings)),
		sessions:   make(map[uuid.UUID]models.Session, len(s.sessions)),
		seq:        s.seq,
	}
	for k, v := range s.recordings {
		tx.recordings[k] = v
	}
	for k, v := range s.sessions {
		tx.sessions[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.recordings = tx.recordings
	s.sessions = tx.sessions
	s.seq = tx.seq
	return nil
}

// Track implements Tracker.
func (s *MemoryStore) Track(_ context.Context, obs models.CandidateObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[obs.ExternalAssetID]
	if !ok {
		c = models.RecordingCandidate{ExternalAssetID: obs.ExternalAssetID, FirstSeenAt: obs.ObservedAt}
	}
	key := obs.SourceEventType()
	seen := false
	for _, k := range c.SourceEventTypes {
		if k == key {
			seen = true
			break
		}
	}
	if !seen {
		c.SourceEventTypes = append(append([]string(nil), c.SourceEventTypes...), key)
	}
	c.LastCorrelationID = obs.CorrelationID
	c.LastOutcome = obs.Outcome
	c.LastSeenAt = obs.ObservedAt
	c.SeenCount++
	s.candidates[obs.ExternalAssetID] = c
	return nil
}

// GetCandidate returns the diagnostic trace for assetID, or nil.
func (s *MemoryStore) GetCandidate(_ context.Context, assetID string) (*models.RecordingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[assetID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetRecording returns a recording by id, or nil.
func (s *MemoryStore) GetRecording(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return nil, nil
	}
	rec := r.rec
	return &rec, nil
}

// RecordingsByAsset returns every recording stored for assetID, newest first.
func (s *MemoryStore) RecordingsByAsset(_ context.Context, assetID string) ([]models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []memRecording
	for _, r := range s.recordings {
		if r.rec.ExternalAssetID == assetID {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	out := make([]models.Recording, 0, len(all))
	for _, r := range all {
		out = append(out, r.rec)
	}
	return out, nil
}

// GetSession returns a session by id, or nil.
func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// ListSessionsByExternalStreamID returns sessions sharing streamID, newest first.
func (s *MemoryStore) ListSessionsByExternalStreamID(_ context.Context, streamID string) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionsByStream(s.sessions, streamID), nil
}

// CreateSession stores a new active session. Zero ids and timestamps are filled in.
func (s *MemoryStore) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = models.SessionStatusActive
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.CreatedAt, sess.UpdatedAt = now, now
	s.sessions[sess.ID] = *sess
	return nil
}

func sessionsByStream(all map[uuid.UUID]models.Session, streamID string) []models.Session {
	var out []models.Session
	for _, sess := range all {
		if sess.ExternalStreamID == streamID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

type memTx struct {
	store      *MemoryStore
	recordings map[uuid.UUID]memRecording
	sessions   map[uuid.UUID]models.Session
	seq        int64
}

func (t *memTx) FindLatestRecordingByAsset(_ context.Context, assetID string) (*models.Recording, error) {
	var best *memRecording
	for _, r := range t.recordings {
		if r.rec.ExternalAssetID != assetID {
			continue
		}
		if best == nil || r.seq > best.seq {
			r := r
			best = &r
		}
	}
	if best == nil {
		return nil, nil
	}
	rec := best.rec
	return &rec, nil
}

func (t *memTx) InsertRecording(_ context.Context, rec *models.Recording) error {
	now := t.store.now().UTC()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	t.seq++
	t.recordings[rec.ID] = memRecording{rec: *rec, seq: t.seq}
	return nil
}

func (t *memTx) UpdateRecording(_ context.Context, rec *models.Recording) error {
	r, ok := t.recordings[rec.ID]
	if !ok {
		return nil
	}
	rec.UpdatedAt = t.store.now().UTC()
	r.rec = *rec
	t.recordings[rec.ID] = r
	return nil
}

func (t *memTx) ClearRecordingLinkIf(_ context.Context, recordingID, sessionID uuid.UUID) (bool, error) {
	r, ok := t.recordings[recordingID]
	if !ok || !r.rec.LinkedTo(sessionID) {
		return false, nil
	}
	r.rec.LinkedSessionID = nil
	r.rec.UpdatedAt = t.store.now().UTC()
	t.recordings[recordingID] = r
	return true, nil
}

func (t *memTx) LockSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	sess, ok := t.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (t *memTx) SessionsByExternalStreamID(_ context.Context, streamID string) ([]models.Session, error) {
	return sessionsByStream(t.sessions, streamID), nil
}

func (t *memTx) UpdateSessionLink(_ context.Context, s *models.Session) error {
	cur, ok := t.sessions[s.ID]
	if !ok {
		return nil
	}
	cur.RecordingID = s.RecordingID
	cur.RecordingAssetID = s.RecordingAssetID
	cur.RecordingSource = s.RecordingSource
	cur.RecordingLinkedAt = s.RecordingLinkedAt
	cur.UpdatedAt = t.store.now().UTC()
	t.sessions[s.ID] = cur
	return nil
}

func (t *memTx) ClearSessionLinkIf(_ context.Context, sessionID, recordingID uuid.UUID) (bool, error) {
	sess, ok := t.sessions[sessionID]
	if !ok || !sess.PointsAt(recordingID) {
		return false, nil
	}
	Link{}.ApplyTo(&sess)
	sess.UpdatedAt = t.store.now().UTC()
	t.sessions[sessionID] = sess
	return true, nil
}

func (t *memTx) MarkSessionEnded(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	sess, ok := t.sessions[sessionID]
	if !ok || sess.EndedAt != nil {
		return nil
	}
	sess.Status = models.SessionStatusEnded
	sess.EndedAt = &at
	sess.UpdatedAt = t.store.now().UTC()
	t.sessions[sessionID] = sess
	return nil
}

// ListStale returns candidates last seen before the cutoff, oldest first.
func (s *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]models.RecordingCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RecordingCandidate
	for _, c := range s.candidates {
		if c.LastSeenAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.Before(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteStale removes the listed candidates that are still older than the cutoff.
func (s *MemoryStore) DeleteStale(_ context.Context, assetIDs []string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range assetIDs {
		if c, ok := s.candidates[id]; ok && c.LastSeenAt.Before(before) {
			delete(s.candidates, id)
			n++
		}
	}
	return n, nil
}
