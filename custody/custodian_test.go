package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

var errTransferFailed = errors.New("transfer failed")

// fakeLedger keeps balances in memory and ignores the transaction handle.
type fakeLedger struct {
	balances map[string]int64
	failNext bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (f *fakeLedger) EnsureAccount(ctx context.Context, tx pgx.Tx, ref string) error {
	if _, ok := f.balances[ref]; !ok {
		f.balances[ref] = 0
	}
	return nil
}

func (f *fakeLedger) Balance(ctx context.Context, tx pgx.Tx, ref string) (int64, error) {
	return f.balances[ref], nil
}

func (f *fakeLedger) Transfer(ctx context.Context, tx pgx.Tx, src, dst string, amount int64) error {
	if f.failNext {
		f.failNext = false
		return errTransferFailed
	}
	if f.balances[src] < amount {
		return errors.New("insufficient funds")
	}
	f.balances[src] -= amount
	f.balances[dst] += amount
	return nil
}

func TestLockMovesValueIntoCustody(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["payer"] = 300
	c := New(ledger, "penalty_sink")

	if err := c.Lock(context.Background(), nil, "payer", "custody_d1", 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := ledger.balances["payer"]; got != 200 {
		t.Errorf("payer balance = %d, want 200", got)
	}
	if got := ledger.balances["custody_d1"]; got != 100 {
		t.Errorf("custody balance = %d, want 100", got)
	}
}

func TestReleaseMovesValueToPayee(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["custody_d1"] = 300
	c := New(ledger, "penalty_sink")

	if err := c.Release(context.Background(), nil, "custody_d1", "seller", 200); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := ledger.balances["seller"]; got != 200 {
		t.Errorf("seller balance = %d, want 200", got)
	}
	if got := ledger.balances["custody_d1"]; got != 100 {
		t.Errorf("custody balance = %d, want 100", got)
	}
}

func TestTransferToPenaltyTargetsSink(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["custody_d1"] = 300
	c := New(ledger, "penalty_sink")

	if err := c.TransferToPenalty(context.Background(), nil, "custody_d1", 300); err != nil {
		t.Fatalf("transfer to penalty: %v", err)
	}
	if got := ledger.balances["penalty_sink"]; got != 300 {
		t.Errorf("penalty balance = %d, want 300", got)
	}
	if got := ledger.balances["custody_d1"]; got != 0 {
		t.Errorf("custody balance = %d, want 0", got)
	}
}

func TestLedgerFailureSurfacesUnchanged(t *testing.T) {
	ledger := newFakeLedger()
	ledger.balances["payer"] = 100
	ledger.failNext = true
	c := New(ledger, "penalty_sink")

	err := c.Lock(context.Background(), nil, "payer", "custody_d1", 50)
	if !errors.Is(err, errTransferFailed) {
		t.Fatalf("expected wrapped ledger error, got %v", err)
	}
	if got := ledger.balances["payer"]; got != 100 {
		t.Errorf("payer balance moved on failed transfer: %d", got)
	}
}
