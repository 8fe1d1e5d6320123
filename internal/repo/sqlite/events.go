package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// EventStore is the SQLite-backed repo.EventStore: sequence is assigned by
// the database's AUTOINCREMENT primary key under the write mutex, giving
// a single-writer monotonic counter without a separate counter row.
type EventStore struct {
	db *DB
}

// NewEventStore wraps db.
func NewEventStore(db *DB) *EventStore { return &EventStore{db: db} }

var _ repo.EventStore = (*EventStore)(nil)

func (s *EventStore) Append(ctx context.Context, e *swarmmodel.Event) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO events (id, timestamp, severity, category, goal_id, task_id, correlation_id, source_process_id, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), formatTime(e.Timestamp), string(e.Severity), string(e.Category),
		nullID(e.GoalID), nullID(e.TaskID), nullStr(e.CorrelationID), nullStr(e.SourceProcessID), string(doc))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read assigned sequence: %w", err)
	}
	e.Sequence = uint64(seq)

	// The sequence is assigned after marshaling, so persist it back onto
	// the stored doc too -- otherwise a later From()/Since() replay would
	// deserialize Sequence=0.
	doc2, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event with sequence: %w", err)
	}
	if _, err := s.db.conn.ExecContext(ctx, `UPDATE events SET doc=? WHERE sequence=?`, string(doc2), seq); err != nil {
		return fmt.Errorf("persist assigned sequence: %w", err)
	}
	return nil
}

func (s *EventStore) From(ctx context.Context, after uint64, limit int) ([]*swarmmodel.Event, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	query := `SELECT doc FROM events WHERE sequence > ? ORDER BY sequence ASC`
	args := []any{after}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay events from sequence: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) Since(ctx context.Context, t time.Time, limit int) ([]*swarmmodel.Event, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	query := `SELECT doc FROM events WHERE timestamp >= ? ORDER BY sequence ASC`
	args := []any{formatTime(t)}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay events since timestamp: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *EventStore) LatestSequence(ctx context.Context) (uint64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var seq sql.NullInt64
	err := s.db.conn.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func scanEvents(rows *sql.Rows) ([]*swarmmodel.Event, error) {
	var out []*swarmmodel.Event
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e swarmmodel.Event
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
