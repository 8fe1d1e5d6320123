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

// WorktreeRepository is the SQLite-backed repo.WorktreeRepository.
type WorktreeRepository struct {
	db *DB
}

// NewWorktreeRepository wraps db.
func NewWorktreeRepository(db *DB) *WorktreeRepository { return &WorktreeRepository{db: db} }

var _ repo.WorktreeRepository = (*WorktreeRepository)(nil)

func (r *WorktreeRepository) Create(ctx context.Context, w *swarmmodel.Worktree) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal worktree: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO worktrees (id, task_id, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, w.ID.String(), w.TaskID.String(), string(doc), formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return swarmerr.Conflict("worktree.already_exists", "a worktree already exists for this task")
		}
		return fmt.Errorf("insert worktree: %w", err)
	}
	return nil
}

func (r *WorktreeRepository) Update(ctx context.Context, w *swarmmodel.Worktree) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal worktree: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE worktrees SET doc=?, updated_at=? WHERE id=?
	`, string(doc), formatTime(w.UpdatedAt), w.ID.String())
	if err != nil {
		return fmt.Errorf("update worktree: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("worktree.not_found", "worktree not found")
	}
	return nil
}

func (r *WorktreeRepository) GetByTask(ctx context.Context, taskID swarmmodel.ID) (*swarmmodel.Worktree, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM worktrees WHERE task_id=?`, taskID.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("worktree.not_found", "worktree not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get worktree by task: %w", err)
	}
	return decodeWorktree(doc)
}

func (r *WorktreeRepository) Delete(ctx context.Context, id swarmmodel.ID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM worktrees WHERE id=?`, id.String())
	if err != nil {
		return fmt.Errorf("delete worktree: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("worktree.not_found", "worktree not found")
	}
	return nil
}

func (r *WorktreeRepository) List(ctx context.Context) ([]*swarmmodel.Worktree, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	rows, err := r.db.conn.QueryContext(ctx, `SELECT doc FROM worktrees ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()

	var out []*swarmmodel.Worktree
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan worktree: %w", err)
		}
		w, err := decodeWorktree(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func decodeWorktree(doc string) (*swarmmodel.Worktree, error) {
	var w swarmmodel.Worktree
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("decode worktree: %w", err)
	}
	return &w, nil
}
