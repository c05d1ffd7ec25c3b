package models

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement item kinds.
const (
	ItemKindRecording = "recording"
	ItemKindSession   = "session"
)

// Entitlement is a direct access grant for a user on one item.
type Entitlement struct {
	UserID    uuid.UUID `json:"user_id"`
	ItemKind  string    `json:"item_kind"`
	ItemID    uuid.UUID `json:"item_id"`
	Source    string    `json:"source,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}
