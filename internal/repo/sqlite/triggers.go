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

// TriggerRepository is the SQLite-backed repo.TriggerRepository.
type TriggerRepository struct {
	db *DB
}

// NewTriggerRepository wraps db.
func NewTriggerRepository(db *DB) *TriggerRepository { return &TriggerRepository{db: db} }

var _ repo.TriggerRepository = (*TriggerRepository)(nil)

func (r *TriggerRepository) Create(ctx context.Context, rule *swarmmodel.TriggerRule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal trigger rule: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO trigger_rules (name, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, rule.Name, string(doc), formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return swarmerr.Conflict("trigger_rule.name_exists", "a trigger rule with this name already exists")
		}
		return fmt.Errorf("insert trigger rule: %w", err)
	}
	return nil
}

func (r *TriggerRepository) Update(ctx context.Context, rule *swarmmodel.TriggerRule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal trigger rule: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE trigger_rules SET doc=?, updated_at=? WHERE name=?
	`, string(doc), formatTime(rule.UpdatedAt), rule.Name)
	if err != nil {
		return fmt.Errorf("update trigger rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("trigger_rule.not_found", "trigger rule not found")
	}
	return nil
}

func (r *TriggerRepository) Get(ctx context.Context, name string) (*swarmmodel.TriggerRule, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM trigger_rules WHERE name=?`, name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("trigger_rule.not_found", "trigger rule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger rule: %w", err)
	}
	return decodeTriggerRule(doc)
}

func (r *TriggerRepository) List(ctx context.Context) ([]*swarmmodel.TriggerRule, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	rows, err := r.db.conn.QueryContext(ctx, `SELECT doc FROM trigger_rules ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trigger rules: %w", err)
	}
	defer rows.Close()

	var out []*swarmmodel.TriggerRule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan trigger rule: %w", err)
		}
		rule, err := decodeTriggerRule(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func decodeTriggerRule(doc string) (*swarmmodel.TriggerRule, error) {
	var rule swarmmodel.TriggerRule
	if err := json.Unmarshal([]byte(doc), &rule); err != nil {
		return nil, fmt.Errorf("decode trigger rule: %w", err)
	}
	return &rule, nil
}
