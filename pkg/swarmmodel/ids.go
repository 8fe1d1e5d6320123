// Package swarmmodel defines the durable entities shared by every layer of
// the orchestration engine: goals, tasks, worktrees, agent templates,
// memory records, convergence trajectories, events, and trigger rules.
package swarmmodel

import (
	"time"

	"github.com/google/uuid"
)

// ID is the 128-bit unique identifier type shared by every entity.
type ID = uuid.UUID

// NewID allocates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a string-form identifier.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// Stamps holds the monotone created/updated timestamps every entity carries.
type Stamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets CreatedAt (if zero) and always refreshes UpdatedAt.
func (s *Stamps) Touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}
