package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/swarmcore/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the swarm_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO swarm_events (id, event_type, task_id, phase_id, agent_id, proposal_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, string(ev.Type), ev.TaskID, ev.PhaseID, ev.AgentID, ev.ProposalID, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for swarm_events queries.
const eventColumns = `id, event_type, task_id, phase_id, agent_id, proposal_id, payload, created_at`

func scanEvent(row scannable, ev *event.Event) error {
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.Type, &ev.TaskID, &ev.PhaseID, &ev.AgentID, &ev.ProposalID, &payload, &ev.CreatedAt); err != nil {
		return err
	}
	ev.Payload = payload
	return nil
}

// LoadByTask returns all events for the given task in append order.
func (s *EventStore) LoadByTask(ctx context.Context, taskID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM swarm_events WHERE task_id = $1 ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load events by task %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Recent returns events matching f, newest first. The default limit is 100.
func (s *EventStore) Recent(ctx context.Context, f event.Filter) ([]event.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		args       []any
		conditions []string
	)
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	if f.After != nil {
		args = append(args, *f.After)
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM swarm_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
