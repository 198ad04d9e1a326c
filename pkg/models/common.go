package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the soft-delete / enable flag shared by every entity.
type LifecycleState string

const (
	StateActive   LifecycleState = "ACTIVE"
	StateInactive LifecycleState = "INACTIVE"
)

// StateFromBool maps an active/enabled flag onto a lifecycle state.
func StateFromBool(active bool) LifecycleState {
	if active {
		return StateActive
	}
	return StateInactive
}

// Base is embedded by all persisted entities.
type Base struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	State     LifecycleState `json:"-" db:"state"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// NewBase returns a fresh ACTIVE base with a generated id.
func NewBase(now time.Time) Base {
	return Base{
		ID:        uuid.New(),
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (b Base) IsActive() bool {
	return b.State == StateActive
}
