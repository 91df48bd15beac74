package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/addressing"
	"dealflow/ledger"
	"dealflow/participant"
)

var (
	// ErrNotFound signals that no credentials exist for the username.
	ErrNotFound = errors.New("auth: credentials not found")
	// ErrDuplicateUsername signals that the username is already registered.
	ErrDuplicateUsername = errors.New("auth: username already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateParticipant(ctx context.Context, username, passwordHash string) (participant.Participant, error)
	GetCredentials(ctx context.Context, username string) (Credentials, error)
}

// PGRepository implements Repository backed by PostgreSQL. Registration
// creates the participant, their ledger account and their credentials in a
// single transaction so a half-registered participant can never exist.
type PGRepository struct {
	pool         *pgxpool.Pool
	participants *participant.Repository
	accounts     *ledger.Ledger
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool, participants *participant.Repository, accounts *ledger.Ledger) *PGRepository {
	return &PGRepository{pool: pool, participants: participants, accounts: accounts}
}

// CreateParticipant registers a new participant with a fresh ledger account.
func (r *PGRepository) CreateParticipant(ctx context.Context, username, passwordHash string) (participant.Participant, error) {
	id := uuid.NewString()
	accountRef, err := addressing.Derive(addressing.NamespaceParticipant, id)
	if err != nil {
		return participant.Participant{}, fmt.Errorf("auth: derive account ref: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return participant.Participant{}, fmt.Errorf("auth: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.accounts.EnsureAccount(ctx, tx, accountRef); err != nil {
		return participant.Participant{}, err
	}

	p, err := r.participants.Create(ctx, tx, id, username, accountRef)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return participant.Participant{}, ErrDuplicateUsername
		}
		return participant.Participant{}, fmt.Errorf("auth: create participant: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credentials (participant_id, username, password_hash)
		VALUES ($1, $2, $3)
	`, id, username, passwordHash); err != nil {
		return participant.Participant{}, fmt.Errorf("auth: store credentials: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return participant.Participant{}, fmt.Errorf("auth: commit: %w", err)
	}
	return p, nil
}

// GetCredentials retrieves the login record for a username.
func (r *PGRepository) GetCredentials(ctx context.Context, username string) (Credentials, error) {
	const selectSQL = `
		SELECT participant_id, username, password_hash
		FROM credentials
		WHERE username = $1
	`

	var c Credentials
	err := r.pool.QueryRow(ctx, selectSQL, username).Scan(&c.ParticipantID, &c.Username, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("auth: get credentials: %w", err)
	}
	return c, nil
}
