package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// GoalRepository is the SQLite-backed repo.GoalRepository.
type GoalRepository struct {
	db *DB
}

// NewGoalRepository wraps db.
func NewGoalRepository(db *DB) *GoalRepository { return &GoalRepository{db: db} }

var _ repo.GoalRepository = (*GoalRepository)(nil)

func (r *GoalRepository) Create(ctx context.Context, g *swarmmodel.Goal) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal goal: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO goals (id, status, parent_id, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID.String(), string(g.Status), nullID(g.ParentID), string(doc), formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (r *GoalRepository) Update(ctx context.Context, g *swarmmodel.Goal) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal goal: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE goals SET status=?, parent_id=?, doc=?, updated_at=? WHERE id=?
	`, string(g.Status), nullID(g.ParentID), string(doc), formatTime(g.UpdatedAt), g.ID.String())
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("goal.not_found", "goal not found")
	}
	return nil
}

func (r *GoalRepository) Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Goal, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM goals WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("goal.not_found", "goal not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return decodeGoal(doc)
}

func (r *GoalRepository) ListActive(ctx context.Context) ([]*swarmmodel.Goal, error) {
	return r.listWhere(ctx, `WHERE status=?`, string(swarmmodel.GoalActive))
}

func (r *GoalRepository) List(ctx context.Context) ([]*swarmmodel.Goal, error) {
	return r.listWhere(ctx, ``)
}

func (r *GoalRepository) listWhere(ctx context.Context, where string, args ...any) ([]*swarmmodel.Goal, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	rows, err := r.db.conn.QueryContext(ctx, `SELECT doc FROM goals `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []*swarmmodel.Goal
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		g, err := decodeGoal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func decodeGoal(doc string) (*swarmmodel.Goal, error) {
	var g swarmmodel.Goal
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return nil, fmt.Errorf("decode goal: %w", err)
	}
	return &g, nil
}
