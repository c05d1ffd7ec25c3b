package entitlements

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
)

type grantKey struct {
	user uuid.UUID
	kind string
	item uuid.UUID
}

// MemoryRepository keeps entitlements in process. Used with STORE_DRIVER=memory and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	grants map[grantKey]models.Entitlement
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{grants: map[grantKey]models.Entitlement{}}
}

// Grant records e unless an identical grant exists.
func (m *MemoryRepository) Grant(_ context.Context, e *models.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := grantKey{e.UserID, e.ItemKind, e.ItemID}
	if cur, ok := m.grants[k]; ok {
		e.GrantedAt = cur.GrantedAt
		return nil
	}
	e.GrantedAt = time.Now().UTC()
	m.grants[k] = *e
	return nil
}

// Has reports a direct entitlement.
func (m *MemoryRepository) Has(_ context.Context, userID uuid.UUID, kind string, itemID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[grantKey{userID, kind, itemID}]
	return ok, nil
}

// ListByUser returns a user's grants, newest first.
func (m *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Entitlement
	for k, e := range m.grants {
		if k.user == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}
