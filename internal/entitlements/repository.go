package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aura-webinar/reconciler/internal/models"
	"github.com/aura-webinar/reconciler/pkg/database"
)

// Repository handles entitlement persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an entitlements repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Grant records a direct entitlement. Granting twice is a no-op; the first grant's
// source and timestamp are kept.
func (r *Repository) Grant(ctx context.Context, e *models.Entitlement) error {
	err := r.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO entitlements (user_id, item_kind, item_id, source)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			ON CONFLICT (user_id, item_kind, item_id) DO NOTHING
			RETURNING granted_at
		)
		SELECT granted_at FROM ins
		UNION ALL
		SELECT granted_at FROM entitlements WHERE user_id = $1 AND item_kind = $2 AND item_id = $3
		LIMIT 1`,
		e.UserID, e.ItemKind, e.ItemID, e.Source,
	).Scan(&e.GrantedAt)
	if err != nil {
		return fmt.Errorf("grant entitlement: %w", err)
	}
	return nil
}

// Has reports whether userID holds a direct entitlement on the item.
func (r *Repository) Has(ctx context.Context, userID uuid.UUID, kind string, itemID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM entitlements WHERE user_id = $1 AND item_kind = $2 AND item_id = $3)`,
		userID, kind, itemID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	return ok, nil
}

// ListByUser returns a user's direct entitlements, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Entitlement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, item_kind, item_id, COALESCE(source, ''), granted_at
		FROM entitlements WHERE user_id = $1 ORDER BY granted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Entitlement
	for rows.Next() {
		var e models.Entitlement
		if err := rows.Scan(&e.UserID, &e.ItemKind, &e.ItemID, &e.Source, &e.GrantedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
