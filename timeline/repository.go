package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository appends and reads per-deal timeline events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository. The pool is only used by
// the read side; appends run inside the caller's transaction.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one event inside the active transaction.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, dealID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO deal_events (deal_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, dealID, eventType, actor, body); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}

// List returns a deal's events oldest first.
func (r *Repository) List(ctx context.Context, dealID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, type, actor_id, payload, created_at
		FROM deal_events
		WHERE deal_id = $1
		ORDER BY id ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.DealID, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return out, nil
}
