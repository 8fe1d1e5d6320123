package taskservice

import (
	"context"
	"sync"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// memTaskRepo is a minimal in-memory repo.TaskRepository for service tests.
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[swarmmodel.ID]*swarmmodel.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[swarmmodel.ID]*swarmmodel.Task)}
}

func (r *memTaskRepo) Create(_ context.Context, t *swarmmodel.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) Update(_ context.Context, t *swarmmodel.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) Get(_ context.Context, id swarmmodel.ID) (*swarmmodel.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, swarmerr.NotFound("task.not_found", "task not found")
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) GetByIdempotencyKey(_ context.Context, key string) (*swarmmodel.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, swarmerr.NotFound("task.not_found", "task not found")
}

func (r *memTaskRepo) List(_ context.Context, f repo.Filter) ([]*swarmmodel.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*swarmmodel.Task
	for _, t := range r.tasks {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTaskRepo) Count(ctx context.Context, f repo.Filter) (int, error) {
	list, err := r.List(ctx, f)
	return len(list), err
}

func (r *memTaskRepo) ClaimReady(_ context.Context, id swarmmodel.ID, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != swarmmodel.TaskReady {
		return false, nil
	}
	t.Status = swarmmodel.TaskRunning
	return true, nil
}
