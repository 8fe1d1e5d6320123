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

// AgentTemplateRepository is the SQLite-backed repo.AgentTemplateRepository.
// Every Create inserts a new (name, version) row; prior versions are never
// overwritten, matching the versioned-history requirement.
type AgentTemplateRepository struct {
	db *DB
}

// NewAgentTemplateRepository wraps db.
func NewAgentTemplateRepository(db *DB) *AgentTemplateRepository {
	return &AgentTemplateRepository{db: db}
}

var _ repo.AgentTemplateRepository = (*AgentTemplateRepository)(nil)

func (r *AgentTemplateRepository) Create(ctx context.Context, t *swarmmodel.AgentTemplate) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal agent template: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO agent_templates (name, version, status, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Name, t.Version, string(t.Status), string(doc), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return swarmerr.Conflict("agent_template.version_exists", "this template name/version already exists")
		}
		return fmt.Errorf("insert agent template: %w", err)
	}
	return nil
}

func (r *AgentTemplateRepository) Latest(ctx context.Context, name string) (*swarmmodel.AgentTemplate, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT doc FROM agent_templates WHERE name=? AND status=? ORDER BY version DESC LIMIT 1
	`, name, string(swarmmodel.TemplateActive)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("agent_template.not_found", "no active template with this name")
	}
	if err != nil {
		return nil, fmt.Errorf("get latest agent template: %w", err)
	}
	return decodeAgentTemplate(doc)
}

func (r *AgentTemplateRepository) Version(ctx context.Context, name string, version int) (*swarmmodel.AgentTemplate, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT doc FROM agent_templates WHERE name=? AND version=?
	`, name, version).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("agent_template.not_found", "template version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get agent template version: %w", err)
	}
	return decodeAgentTemplate(doc)
}

func (r *AgentTemplateRepository) SetStatus(ctx context.Context, name string, version int, status swarmmodel.TemplateStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var doc string
	if err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM agent_templates WHERE name=? AND version=?`, name, version).Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return swarmerr.NotFound("agent_template.not_found", "template version not found")
		}
		return fmt.Errorf("get agent template for status update: %w", err)
	}
	t, err := decodeAgentTemplate(doc)
	if err != nil {
		return err
	}
	t.Status = status
	newDoc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal agent template: %w", err)
	}
	_, err = r.db.conn.ExecContext(ctx, `
		UPDATE agent_templates SET status=?, doc=? WHERE name=? AND version=?
	`, string(status), string(newDoc), name, version)
	if err != nil {
		return fmt.Errorf("update agent template status: %w", err)
	}
	return nil
}

func (r *AgentTemplateRepository) List(ctx context.Context) ([]*swarmmodel.AgentTemplate, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	rows, err := r.db.conn.QueryContext(ctx, `SELECT doc FROM agent_templates ORDER BY name ASC, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agent templates: %w", err)
	}
	defer rows.Close()

	var out []*swarmmodel.AgentTemplate
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan agent template: %w", err)
		}
		t, err := decodeAgentTemplate(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeAgentTemplate(doc string) (*swarmmodel.AgentTemplate, error) {
	var t swarmmodel.AgentTemplate
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode agent template: %w", err)
	}
	return &t, nil
}
