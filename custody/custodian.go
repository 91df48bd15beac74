package custody

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Ledger is the value-transfer primitive the custodian wraps. A failed
// transfer surfaces unchanged to the caller and moves nothing.
type Ledger interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, ref string) error
	Balance(ctx context.Context, tx pgx.Tx, ref string) (int64, error)
	Transfer(ctx context.Context, tx pgx.Tx, src, dst string, amount int64) error
}

// Custodian moves value in and out of per-deal custody accounts under the
// program's own authority. Penalty routing targets one fixed sink account.
type Custodian struct {
	ledger     Ledger
	penaltyRef string
}

func New(ledger Ledger, penaltyRef string) *Custodian {
	return &Custodian{ledger: ledger, penaltyRef: penaltyRef}
}

// PenaltyRef exposes the configured penalty sink reference.
func (c *Custodian) PenaltyRef() string {
	return c.penaltyRef
}

// Lock moves amount from the payer into custody, creating the custody
// account on first use.
func (c *Custodian) Lock(ctx context.Context, tx pgx.Tx, payer, custodyRef string, amount int64) error {
	if err := c.ledger.EnsureAccount(ctx, tx, custodyRef); err != nil {
		return err
	}
	if err := c.ledger.Transfer(ctx, tx, payer, custodyRef, amount); err != nil {
		return fmt.Errorf("custody: lock %d from %s: %w", amount, payer, err)
	}
	return nil
}

// Release moves amount from custody to the payee. The caller must have
// already verified the custody balance covers it.
func (c *Custodian) Release(ctx context.Context, tx pgx.Tx, custodyRef, payee string, amount int64) error {
	if err := c.ledger.Transfer(ctx, tx, custodyRef, payee, amount); err != nil {
		return fmt.Errorf("custody: release %d to %s: %w", amount, payee, err)
	}
	return nil
}

// TransferToPenalty forfeits amount from custody to the penalty sink. Used
// only by fail transitions.
func (c *Custodian) TransferToPenalty(ctx context.Context, tx pgx.Tx, custodyRef string, amount int64) error {
	if err := c.ledger.EnsureAccount(ctx, tx, c.penaltyRef); err != nil {
		return err
	}
	if err := c.ledger.Transfer(ctx, tx, custodyRef, c.penaltyRef, amount); err != nil {
		return fmt.Errorf("custody: transfer %d to penalty: %w", amount, err)
	}
	return nil
}

// Balance reads the custody account's current balance.
func (c *Custodian) Balance(ctx context.Context, tx pgx.Tx, custodyRef string) (int64, error) {
	return c.ledger.Balance(ctx, tx, custodyRef)
}
