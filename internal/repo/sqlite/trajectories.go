package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// TrajectoryRepository is the SQLite-backed repo.TrajectoryRepository.
type TrajectoryRepository struct {
	db *DB
}

// NewTrajectoryRepository wraps db.
func NewTrajectoryRepository(db *DB) *TrajectoryRepository { return &TrajectoryRepository{db: db} }

var _ repo.TrajectoryRepository = (*TrajectoryRepository)(nil)

func (r *TrajectoryRepository) Create(ctx context.Context, tr *swarmmodel.Trajectory) error {
	doc, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	now := formatTime(time.Now())
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO trajectories (id, task_id, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, tr.ID.String(), tr.TaskID.String(), string(doc), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return swarmerr.Conflict("trajectory.already_exists", "a trajectory already exists for this task")
		}
		return fmt.Errorf("insert trajectory: %w", err)
	}
	return nil
}

func (r *TrajectoryRepository) Update(ctx context.Context, tr *swarmmodel.Trajectory) error {
	doc, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE trajectories SET doc=?, updated_at=? WHERE id=?
	`, string(doc), formatTime(time.Now()), tr.ID.String())
	if err != nil {
		return fmt.Errorf("update trajectory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("trajectory.not_found", "trajectory not found")
	}
	return nil
}

func (r *TrajectoryRepository) Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Trajectory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM trajectories WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("trajectory.not_found", "trajectory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get trajectory: %w", err)
	}
	return decodeTrajectory(doc)
}

func (r *TrajectoryRepository) GetByTask(ctx context.Context, taskID swarmmodel.ID) (*swarmmodel.Trajectory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM trajectories WHERE task_id=?`, taskID.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("trajectory.not_found", "trajectory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get trajectory by task: %w", err)
	}
	return decodeTrajectory(doc)
}

func decodeTrajectory(doc string) (*swarmmodel.Trajectory, error) {
	var tr swarmmodel.Trajectory
	if err := json.Unmarshal([]byte(doc), &tr); err != nil {
		return nil, fmt.Errorf("decode trajectory: %w", err)
	}
	return &tr, nil
}
