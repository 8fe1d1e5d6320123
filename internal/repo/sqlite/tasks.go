package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// TaskRepository is the SQLite-backed repo.TaskRepository.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository wraps db.
func NewTaskRepository(db *DB) *TaskRepository { return &TaskRepository{db: db} }

var _ repo.TaskRepository = (*TaskRepository)(nil)

func (r *TaskRepository) Create(ctx context.Context, t *swarmmodel.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, status, goal_id, parent_id, idempotency_key, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID.String(), string(t.Status), nullID(t.GoalID), nullID(t.ParentID), nullStr(t.IdempotencyKey),
		string(doc), formatTime(t.SubmittedAt), formatTime(t.LastUpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return swarmerr.Conflict("task.idempotency_key_exists", "a task with this idempotency key already exists")
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Update(ctx context.Context, t *swarmmodel.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE tasks SET status=?, goal_id=?, parent_id=?, idempotency_key=?, doc=?, updated_at=?
		WHERE id=?
	`, string(t.Status), nullID(t.GoalID), nullID(t.ParentID), nullStr(t.IdempotencyKey),
		string(doc), formatTime(t.LastUpdatedAt), t.ID.String())
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("task.not_found", "task not found")
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Task, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("task.not_found", "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return decodeTask(doc)
}

func (r *TaskRepository) GetByIdempotencyKey(ctx context.Context, key string) (*swarmmodel.Task, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE idempotency_key=?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("task.not_found", "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return decodeTask(doc)
}

func (r *TaskRepository) List(ctx context.Context, f repo.Filter) ([]*swarmmodel.Task, error) {
	query, args := buildTaskQuery("doc", f)
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*swarmmodel.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepository) Count(ctx context.Context, f repo.Filter) (int, error) {
	query, args := buildTaskQuery("COUNT(*)", f)
	// COUNT queries ignore LIMIT/OFFSET.
	query = strings.Split(query, " ORDER BY")[0]
	query = strings.Split(query, " LIMIT")[0]

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int
	if err := r.db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// ClaimReady performs the conditional UPDATE the repo.TaskRepository
// contract requires for atomicity: only a row currently
// Ready transitions, and the caller learns from RowsAffected whether it
// won the race.
func (r *TaskRepository) ClaimReady(ctx context.Context, id swarmmodel.ID, claimant string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var doc string
	if err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id=? AND status=?`,
		id.String(), string(swarmmodel.TaskReady)).Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("claim ready: %w", err)
	}

	t, err := decodeTask(doc)
	if err != nil {
		return false, err
	}
	t.Status = swarmmodel.TaskRunning
	newDoc, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("marshal claimed task: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE tasks SET status=?, doc=?, updated_at=? WHERE id=? AND status=?
	`, string(swarmmodel.TaskRunning), string(newDoc), formatTime(t.LastUpdatedAt), id.String(), string(swarmmodel.TaskReady))
	if err != nil {
		return false, fmt.Errorf("claim ready update: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func buildTaskQuery(selectCols string, f repo.Filter) (string, []any) {
	q := "SELECT " + selectCols + " FROM tasks WHERE 1=1"
	var args []any
	if f.Status != "" {
		q += " AND status=?"
		args = append(args, f.Status)
	}
	if f.GoalID != nil {
		q += " AND goal_id=?"
		args = append(args, f.GoalID.String())
	}
	if f.ParentID != nil {
		q += " AND parent_id=?"
		args = append(args, f.ParentID.String())
	}
	q += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}
	return q, args
}

func decodeTask(doc string) (*swarmmodel.Task, error) {
	var t swarmmodel.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint,
// across both the modernc and mattn sqlite drivers' error message shapes.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
