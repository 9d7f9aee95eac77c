package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink writes events to the audit_log table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a new PostgreSQL audit sink
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Write persists an audit event to the database
func (s *PostgresSink) Write(ctx context.Context, event Event) error {
	before, err := marshalState(event.BeforeState)
	if err != nil {
		return fmt.Errorf("encode before_state: %w", err)
	}
	after, err := marshalState(event.AfterState)
	if err != nil {
		return fmt.Errorf("encode after_state: %w", err)
	}
	changes, err := marshalState(event.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (
			id, occurred_at, action, resource_type, resource_id, ip_address,
			user_agent, request_id, actor, status, error_message,
			before_state, after_state, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.OccurredAt, event.Action, event.ResourceType, event.ResourceID,
		event.Source.IPAddress, event.Source.UserAgent, event.RequestID, event.Actor,
		event.Status, event.ErrorMessage, before, after, changes)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, occurred_at, action, resource_type, resource_id, ip_address,
			user_agent, request_id, actor, status, error_message,
			before_state, after_state, changes
		FROM audit_log
		ORDER BY occurred_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var (
		e                      Event
		occurred               pgtype.Timestamptz
		errMsg                 pgtype.Text
		before, after, changes []byte
	)
	err := row.Scan(&e.ID, &occurred, &e.Action, &e.ResourceType, &e.ResourceID,
		&e.Source.IPAddress, &e.Source.UserAgent, &e.RequestID, &e.Actor, &e.Status,
		&errMsg, &before, &after, &changes)
	if err != nil {
		return Event{}, err
	}
	e.OccurredAt = occurred.Time.UTC()
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	for _, f := range []struct {
		raw []byte
		dst *map[string]any
	}{{before, &e.BeforeState}, {after, &e.AfterState}, {changes, &e.Changes}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return Event{}, fmt.Errorf("decode state: %w", err)
		}
	}
	return e, nil
}

// marshalState encodes a state map for a JSONB column; nil stays NULL.
func marshalState(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// MemorySink keeps the most recent events in a fixed-size ring.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewMemorySink creates a sink holding up to capacity events.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemorySink{events: make([]Event, capacity)}
}

// Write stores the event, evicting the oldest when full.
func (m *MemorySink) Write(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *MemorySink) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// MultiSink writes every event to a primary sink and then to each
// secondary. Recent reads from the primary.
type MultiSink struct {
	primary     Sink
	secondaries []Sink
}

// NewMultiSink fans events out from primary to secondaries.
func NewMultiSink(primary Sink, secondaries ...Sink) *MultiSink {
	return &MultiSink{primary: primary, secondaries: secondaries}
}

// Write returns the first error but still attempts every sink.
func (m *MultiSink) Write(ctx context.Context, event Event) error {
	var first error
	for _, s := range append([]Sink{m.primary}, m.secondaries...) {
		if err := s.Write(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recent implements Reader when the primary does.
func (m *MultiSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	r, ok := m.primary.(Reader)
	if !ok {
		return nil, ErrNotReadable
	}
	return r.Recent(ctx, limit)
}
