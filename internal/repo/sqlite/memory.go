package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// MemoryRepository is the SQLite-backed repo.MemoryRepository. Put always
// inserts a new version row; GetLatest filters out soft-deleted and
// lower-version rows, matching the "(namespace,key) identifies the
// latest-active" rule.
type MemoryRepository struct {
	db *DB
}

// NewMemoryRepository wraps db.
func NewMemoryRepository(db *DB) *MemoryRepository { return &MemoryRepository{db: db} }

var _ repo.MemoryRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Put(ctx context.Context, m *swarmmodel.Memory) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO memories (id, namespace, key, version, deleted, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID.String(), m.Namespace, m.Key, m.Version, boolToInt(m.Deleted), string(doc),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Memory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `SELECT doc FROM memories WHERE id=?`, id.String()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("memory.not_found", "memory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return decodeMemory(doc)
}

func (r *MemoryRepository) GetLatest(ctx context.Context, namespace, key string) (*swarmmodel.Memory, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var doc string
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT doc FROM memories WHERE namespace=? AND key=? AND deleted=0 ORDER BY version DESC LIMIT 1
	`, namespace, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, swarmerr.NotFound("memory.not_found", "memory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get latest memory: %w", err)
	}
	return decodeMemory(doc)
}

// Delete soft-deletes the memory sharing id's (namespace, key): a new row
// is never inserted; every stored version of that (namespace, key), older
// or newer than id, is marked deleted so GetLatest stops surfacing it.
func (r *MemoryRepository) Delete(ctx context.Context, id swarmmodel.ID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var namespace, key string
	if err := r.db.conn.QueryRowContext(ctx, `SELECT namespace, key FROM memories WHERE id=?`, id.String()).
		Scan(&namespace, &key); err != nil {
		if err == sql.ErrNoRows {
			return swarmerr.NotFound("memory.not_found", "memory not found")
		}
		return fmt.Errorf("locate memory for delete: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE memories SET deleted=1 WHERE namespace=? AND key=?
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("soft-delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return swarmerr.NotFound("memory.not_found", "memory not found")
	}
	return nil
}

// Search ranks non-deleted, latest-version memories by relevance to query
// within namespace (empty namespace searches all). This is the default
// keyword/fuzzy-token implementation of the search seam: a
// vector-backed implementation may later satisfy the same
// repo.MemoryRepository contract without callers changing.
func (r *MemoryRepository) Search(ctx context.Context, query, namespace string, limit int) ([]*swarmmodel.Memory, error) {
	r.db.mu.RLock()
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT m.doc FROM memories m
		INNER JOIN (
			SELECT namespace, key, MAX(version) AS maxver
			FROM memories WHERE deleted=0 GROUP BY namespace, key
		) latest ON m.namespace = latest.namespace AND m.key = latest.key AND m.version = latest.maxver
		WHERE m.deleted=0
	`)
	r.db.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var candidates []*swarmmodel.Memory
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m, err := decodeMemory(doc)
		if err != nil {
			return nil, err
		}
		if namespace != "" && !strings.HasPrefix(m.Namespace, namespace) {
			continue
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if query == "" {
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	haystack := make([]string, len(candidates))
	for i, m := range candidates {
		haystack[i] = m.Key + " " + string(m.Value)
	}
	matches := fuzzy.Find(query, haystack)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	var out []*swarmmodel.Memory
	for _, mt := range matches {
		out = append(out, candidates[mt.Index])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func decodeMemory(doc string) (*swarmmodel.Memory, error) {
	var m swarmmodel.Memory
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
