// Package repo defines the durable persistence contracts every higher
// layer depends on: one repository interface per entity plus the
// append-only event store. Concrete SQLite implementations live in
// internal/repo/sqlite.
package repo

import (
	"context"
	"time"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Filter is a generic query filter; repositories interpret the fields they
// understand and ignore zero values.
type Filter struct {
	Status   string
	GoalID   *swarmmodel.ID
	ParentID *swarmmodel.ID
	Limit    int
	Offset   int
}

// TaskRepository persists Task entities.
type TaskRepository interface {
	Create(ctx context.Context, t *swarmmodel.Task) error
	Update(ctx context.Context, t *swarmmodel.Task) error
	Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Task, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*swarmmodel.Task, error)
	List(ctx context.Context, f Filter) ([]*swarmmodel.Task, error)
	Count(ctx context.Context, f Filter) (int, error)
	// ClaimReady atomically transitions id from Ready to Running, returning
	// ok=false if the row was not in Ready status.
	ClaimReady(ctx context.Context, id swarmmodel.ID, claimant string) (ok bool, err error)
}

// GoalRepository persists Goal entities.
type GoalRepository interface {
	Create(ctx context.Context, g *swarmmodel.Goal) error
	Update(ctx context.Context, g *swarmmodel.Goal) error
	Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Goal, error)
	ListActive(ctx context.Context) ([]*swarmmodel.Goal, error)
	List(ctx context.Context) ([]*swarmmodel.Goal, error)
}

// WorktreeRepository persists the 1:1 task->worktree registry.
type WorktreeRepository interface {
	Create(ctx context.Context, w *swarmmodel.Worktree) error
	Update(ctx context.Context, w *swarmmodel.Worktree) error
	GetByTask(ctx context.Context, taskID swarmmodel.ID) (*swarmmodel.Worktree, error)
	Delete(ctx context.Context, id swarmmodel.ID) error
	List(ctx context.Context) ([]*swarmmodel.Worktree, error)
}

// AgentTemplateRepository persists versioned agent templates.
type AgentTemplateRepository interface {
	Create(ctx context.Context, t *swarmmodel.AgentTemplate) error
	// Latest returns the highest-versioned Active template for name.
	Latest(ctx context.Context, name string) (*swarmmodel.AgentTemplate, error)
	Version(ctx context.Context, name string, version int) (*swarmmodel.AgentTemplate, error)
	SetStatus(ctx context.Context, name string, version int, status swarmmodel.TemplateStatus) error
	List(ctx context.Context) ([]*swarmmodel.AgentTemplate, error)
}

// MemoryRepository persists versioned, soft-deletable Memory records and
// exposes a keyword/similarity search seam.
type MemoryRepository interface {
	Put(ctx context.Context, m *swarmmodel.Memory) error
	Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Memory, error)
	GetLatest(ctx context.Context, namespace, key string) (*swarmmodel.Memory, error)
	Delete(ctx context.Context, id swarmmodel.ID) error
	// Search ranks memories by relevance to query within namespace (empty
	// namespace searches all). The default implementation is keyword/fuzzy
	// token matching; a vector-backed implementation may be substituted
	// without changing this contract.
	Search(ctx context.Context, query, namespace string, limit int) ([]*swarmmodel.Memory, error)
}

// TrajectoryRepository persists convergence trajectories.
type TrajectoryRepository interface {
	Create(ctx context.Context, tr *swarmmodel.Trajectory) error
	Update(ctx context.Context, tr *swarmmodel.Trajectory) error
	Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Trajectory, error)
	GetByTask(ctx context.Context, taskID swarmmodel.ID) (*swarmmodel.Trajectory, error)
}

// TriggerRepository persists trigger rules.
type TriggerRepository interface {
	Create(ctx context.Context, r *swarmmodel.TriggerRule) error
	Update(ctx context.Context, r *swarmmodel.TriggerRule) error
	Get(ctx context.Context, name string) (*swarmmodel.TriggerRule, error)
	List(ctx context.Context) ([]*swarmmodel.TriggerRule, error)
}

// EventStore is the append-only, sequenced event log.
type EventStore interface {
	// Append assigns the next monotonic sequence to e and persists it.
	Append(ctx context.Context, e *swarmmodel.Event) error
	// From returns every event with Sequence > after, in sequence order,
	// used to service subscriber replay.
	From(ctx context.Context, after uint64, limit int) ([]*swarmmodel.Event, error)
	// Since returns every event with Timestamp >= t, in sequence order.
	Since(ctx context.Context, t time.Time, limit int) ([]*swarmmodel.Event, error)
	// LatestSequence returns the highest assigned sequence, or 0 if empty.
	LatestSequence(ctx context.Context) (uint64, error)
}
