package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/deal"
)

// ErrNotFound signals the requested deal does not exist.
var ErrNotFound = errors.New("listing: not found")

// Repository provides read access to deals for browsing. It never locks
// rows; mutation always goes through the lifecycle service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const summaryColumns = `
	id, kind, status, initiator_id,
	goods_name, goods_description, quantity,
	payment, insurance, location, scheduled_at, created_at
`

// GetByID fetches a single deal summary by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM deals WHERE id = $1`

	s, err := scanSummary(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, fmt.Errorf("listing: query by id: %w", err)
	}
	return s, nil
}

// Open fetches up to limit open deals of a kind, newest first.
func (r *Repository) Open(ctx context.Context, kind deal.Kind, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM deals
		WHERE kind = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, kind, deal.StatusListed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing: query open deals: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0, limit)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate summaries: %w", err)
	}

	return summaries, nil
}

// ByParticipant fetches up to limit deals a participant initiated or
// accepted, newest first.
func (r *Repository) ByParticipant(ctx context.Context, participantID string, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM deals
		WHERE initiator_id = $1 OR acceptor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing: query by participant: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0, limit)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate summaries: %w", err)
	}

	return summaries, nil
}

func scanSummary(row pgx.Row) (Summary, error) {
	var (
		s        Summary
		location []byte
	)
	err := row.Scan(
		&s.ID, &s.Kind, &s.Status, &s.InitiatorID,
		&s.GoodsName, &s.GoodsDescription, &s.Quantity,
		&s.Payment, &s.Insurance, &location, &s.ScheduledAt, &s.CreatedAt,
	)
	if err != nil {
		return Summary{}, err
	}
	if err := json.Unmarshal(location, &s.Location); err != nil {
		return Summary{}, fmt.Errorf("%w: unmarshal location: %v", deal.ErrSerialization, err)
	}
	return s, nil
}
