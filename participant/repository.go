package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/reputation"
)

var (
	// ErrNotFound signals the requested participant does not exist.
	ErrNotFound = errors.New("participant: not found")
	// ErrVersionConflict signals the row changed since it was loaded.
	ErrVersionConflict = errors.New("participant: version conflict")
)

// Repository provides access to participant records. Deals reference
// participants by id and load them fresh inside each command's transaction;
// saves carry the loaded version so concurrent mutations never get silently
// discarded.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const participantColumns = `
	id, username, account_ref,
	total_deals, successful_deals, failed_deals,
	total_shipments, successful_shipments, failed_shipments,
	status, version, created_at, updated_at
`

// Create inserts a new participant inside the caller's transaction. The id
// is supplied by the caller so the account reference can be derived from it
// before the row exists.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, id, username, accountRef string) (Participant, error) {
	if username == "" {
		return Participant{}, fmt.Errorf("participant: username required")
	}

	query := `
		INSERT INTO participants (id, username, account_ref, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + participantColumns

	return scanParticipant(tx.QueryRow(ctx, query, id, username, accountRef, reputation.StatusNew))
}

// GetByID fetches a participant outside any deal transaction.
func (r *Repository) GetByID(ctx context.Context, id string) (Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, fmt.Errorf("participant: query by id: %w", err)
	}
	return p, nil
}

// GetForUpdate loads a participant and locks the row for the remainder of
// the caller's transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1 FOR UPDATE`
	p, err := scanParticipant(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, fmt.Errorf("participant: query for update: %w", err)
	}
	return p, nil
}

// GetByUsername fetches a participant by their unique username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE username = $1`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, fmt.Errorf("participant: query by username: %w", err)
	}
	return p, nil
}

// Save persists counter and status mutations. The version predicate rejects
// writes against a stale load.
func (r *Repository) Save(ctx context.Context, tx pgx.Tx, p Participant) error {
	tag, err := tx.Exec(ctx, `
		UPDATE participants
		SET total_deals = $2,
		    successful_deals = $3,
		    failed_deals = $4,
		    total_shipments = $5,
		    successful_shipments = $6,
		    failed_shipments = $7,
		    status = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $9
	`,
		p.ID,
		p.Counters.TotalDeals,
		p.Counters.SuccessfulDeals,
		p.Counters.FailedDeals,
		p.Counters.TotalShipments,
		p.Counters.SuccessfulShipments,
		p.Counters.FailedShipments,
		p.Status,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("participant: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("participant: save existence check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func scanParticipant(row pgx.Row) (Participant, error) {
	var p Participant
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.AccountRef,
		&p.Counters.TotalDeals,
		&p.Counters.SuccessfulDeals,
		&p.Counters.FailedDeals,
		&p.Counters.TotalShipments,
		&p.Counters.SuccessfulShipments,
		&p.Counters.FailedShipments,
		&p.Status,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
