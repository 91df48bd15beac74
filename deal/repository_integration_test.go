package deal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/addressing"
	"dealflow/custody"
	"dealflow/ledger"
	"dealflow/participant"
	"dealflow/timeline"
)

// TestOfferLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies the end-to-end service behavior: both the
// completion and the failure settlement, including ledger conservation.
func TestOfferLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "deals") || !tableExists(ctx, t, pool, "ledger_accounts") || !tableExists(ctx, t, pool, "deal_events") || !tableExists(ctx, t, pool, "outbox") {
		t.Skip("database schema missing; apply migrations/ first")
	}

	penaltyRef := fmt.Sprintf("penalty_itest_%d", time.Now().UnixNano())

	sellerID, sellerRef := seedParticipant(ctx, t, pool, 1000)
	buyerID, buyerRef := seedParticipant(ctx, t, pool, 1000)

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM deal_events WHERE deal_id IN (SELECT id FROM deals WHERE initiator_id = $1)`, sellerID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'deal_id' IN (SELECT id::text FROM deals WHERE initiator_id = $1)`, sellerID)
		pool.Exec(ctx2, `DELETE FROM ledger_accounts WHERE ref IN (SELECT custody_ref FROM deals WHERE initiator_id = $1)`, sellerID)
		pool.Exec(ctx2, `DELETE FROM deals WHERE initiator_id = $1`, sellerID)
		pool.Exec(ctx2, `DELETE FROM participants WHERE id IN ($1, $2)`, sellerID, buyerID)
		pool.Exec(ctx2, `DELETE FROM ledger_accounts WHERE ref IN ($1, $2, $3)`, sellerRef, buyerRef, penaltyRef)
	})

	accounts := ledger.New()
	custodian := custody.New(accounts, penaltyRef)
	participants := participant.NewRepository(pool)
	events := timeline.NewRepository(pool)
	svc := NewService(pool, participants, custodian, events, nil)

	terms := ListParams{
		Kind:        KindOffer,
		InitiatorID: sellerID,
		GoodsName:   "Oak table",
		Payment:     100,
		Location:    Location{Country: "NL", Town: "Utrecht", Address: "Dock 4"},
		ScheduledAt: time.Now().Add(time.Hour),
	}

	// Complete path
	d, err := svc.List(ctx, terms)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if d.Status != StatusListed {
		t.Fatalf("expected listed, got %s", d.Status)
	}
	if got := accountBalance(ctx, t, pool, d.CustodyRef); got != 100 {
		t.Fatalf("expected custody 100 after listing, got %d", got)
	}

	res, err := svc.Accept(ctx, KindOffer, d.ID, buyerID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(res.Secrets) != 2 {
		t.Fatalf("expected 2 issued secrets, got %d", len(res.Secrets))
	}
	if got := accountBalance(ctx, t, pool, buyerRef); got != 800 {
		t.Fatalf("expected buyer 800 after accept, got %d", got)
	}

	secrets := make(map[Role]string, len(res.Secrets))
	for role, secret := range res.Secrets {
		secrets[Role(role)] = secret
	}
	if _, err := svc.Complete(ctx, KindOffer, d.ID, secrets); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if got := accountBalance(ctx, t, pool, sellerRef); got != 1100 {
		t.Fatalf("expected seller 1100 after completion, got %d", got)
	}
	if got := accountBalance(ctx, t, pool, buyerRef); got != 900 {
		t.Fatalf("expected buyer 900 after completion, got %d", got)
	}
	if got := accountBalance(ctx, t, pool, d.CustodyRef); got != 0 {
		t.Fatalf("expected empty custody after completion, got %d", got)
	}

	var evCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM deal_events WHERE deal_id = $1`, d.ID).Scan(&evCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if evCount != 3 {
		t.Fatalf("expected 3 timeline events (listed, accepted, completed), got %d", evCount)
	}

	var seller participant.Participant
	seller, err = participants.GetByID(ctx, sellerID)
	if err != nil {
		t.Fatalf("reload seller: %v", err)
	}
	if seller.Counters.TotalDeals != 1 || seller.Counters.SuccessfulDeals != 1 {
		t.Fatalf("unexpected seller counters: %+v", seller.Counters)
	}

	// Fail path: forfeit everything to the penalty sink
	d2, err := svc.List(ctx, terms)
	if err != nil {
		t.Fatalf("list second deal: %v", err)
	}
	res2, err := svc.Accept(ctx, KindOffer, d2.ID, buyerID)
	if err != nil {
		t.Fatalf("accept second deal: %v", err)
	}
	if _, err := svc.Fail(ctx, KindOffer, d2.ID, res2.Secrets[string(RoleSeller)]); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if got := accountBalance(ctx, t, pool, penaltyRef); got != 300 {
		t.Fatalf("expected penalty sink 300 after failure, got %d", got)
	}
	if got := accountBalance(ctx, t, pool, d2.CustodyRef); got != 0 {
		t.Fatalf("expected empty custody after failure, got %d", got)
	}

	buyer, err := participants.GetByID(ctx, buyerID)
	if err != nil {
		t.Fatalf("reload buyer: %v", err)
	}
	if buyer.Counters.TotalDeals != 2 || buyer.Counters.FailedDeals != 1 {
		t.Fatalf("unexpected buyer counters: %+v", buyer.Counters)
	}

	// Conservation: every unit is in a party account or the penalty sink
	var total int64
	if err := pool.QueryRow(ctx, `SELECT SUM(balance) FROM ledger_accounts WHERE ref IN ($1, $2, $3)`, sellerRef, buyerRef, penaltyRef).Scan(&total); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if total != 2000 {
		t.Fatalf("expected 2000 across accounts, got %d", total)
	}
}

func seedParticipant(ctx context.Context, t *testing.T, pool *pgxpool.Pool, balance int64) (string, string) {
	t.Helper()
	id := uuid.NewString()
	ref, err := addressing.Derive(addressing.NamespaceParticipant, id)
	if err != nil {
		t.Fatalf("derive account ref: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO ledger_accounts (ref, balance) VALUES ($1, $2)`, ref, balance); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO participants (id, username, account_ref) VALUES ($1, $2, $3)`,
		id, fmt.Sprintf("itest-%s", id[:8]), ref); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	return id, ref
}

func accountBalance(ctx context.Context, t *testing.T, pool *pgxpool.Pool, ref string) int64 {
	t.Helper()
	var balance int64
	if err := pool.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE ref = $1`, ref).Scan(&balance); err != nil {
		t.Fatalf("read balance of %s: %v", ref, err)
	}
	return balance
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
