package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrAccountNotFound signals the referenced ledger account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInsufficientFunds signals the source account cannot cover the transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidAmount signals a zero or negative amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger is the value-transfer primitive. All operations run inside the
// caller's transaction so a command's fund movements commit or roll back as
// one unit with the records that reference them.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// EnsureAccount creates the account row if it does not exist yet.
func (l *Ledger) EnsureAccount(ctx context.Context, tx pgx.Tx, ref string) error {
	if ref == "" {
		return fmt.Errorf("ledger: empty account ref")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (ref, balance)
		VALUES ($1, 0)
		ON CONFLICT (ref) DO NOTHING
	`, ref); err != nil {
		return fmt.Errorf("ledger: ensure account: %w", err)
	}
	return nil
}

// Balance reads the current balance, locking the row for the remainder of
// the transaction.
func (l *Ledger) Balance(ctx context.Context, tx pgx.Tx, ref string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE ref = $1 FOR UPDATE`, ref).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return balance, nil
}

// Transfer moves amount from src to dst. The debit carries the balance check
// in its predicate so a shortfall never applies partially.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, src, dst string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = balance - $2,
		    updated_at = now()
		WHERE ref = $1 AND balance >= $2
	`, src, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit %s: %w", src, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_accounts WHERE ref = $1)`, src).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: check source account: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientFunds
	}

	tag, err = tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = balance + $2,
		    updated_at = now()
		WHERE ref = $1
	`, dst, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", dst, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// Deposit credits an account from outside the ledger (operator funding,
// test fixtures).
func (l *Ledger) Deposit(ctx context.Context, tx pgx.Tx, ref string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = balance + $2,
		    updated_at = now()
		WHERE ref = $1
	`, ref, amount)
	if err != nil {
		return fmt.Errorf("ledger: deposit %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
