package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"dealflow/addressing"
	"dealflow/custody"
	"dealflow/deal"
	"dealflow/ledger"
	"dealflow/listing"
	"dealflow/participant"
	"dealflow/test/actors"
	"dealflow/test/chaos"
	"dealflow/test/infra"
	"dealflow/test/oracles"
	"dealflow/timeline"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent traders")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestDealLifecycleConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	accounts := ledger.New()
	custodian := custody.New(accounts, "penalty_sink")
	participants := participant.NewRepository(pool)
	events := timeline.NewRepository(pool)
	dealService := deal.NewService(pool, participants, custodian, events, nil)
	listingService := listing.NewService(listing.NewRepository(pool))

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// traders battling over shared participants, each with deep pockets
	for i := 0; i < *flConcurrency; i++ {
		trio := mustSeedTrio(t, ctx, pool)
		g.Go(func() error {
			return actors.Trader(ctx2, dealService, trio[0], trio[1], trio[2], stop)
		})
		g.Go(func() error {
			return actors.Browser(ctx2, listingService, trio[0], stop)
		})
	}
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustSeedTrio creates three funded participants: an initiator, an acceptor,
// and a shipment recipient.
func mustSeedTrio(t *testing.T, ctx context.Context, pool *pgxpool.Pool) [3]string {
	t.Helper()
	var ids [3]string
	for i := range ids {
		id := uuid.NewString()
		ref, err := addressing.Derive(addressing.NamespaceParticipant, id)
		if err != nil {
			t.Fatalf("derive account ref: %v", err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO ledger_accounts (ref, balance) VALUES ($1, $2)`, ref, int64(1_000_000_000)); err != nil {
			t.Fatalf("seed account: %v", err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO participants (id, username, account_ref) VALUES ($1, $2, $3)`,
			id, fmt.Sprintf("trader-%s", id[:8]), ref); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
		ids[i] = id
	}
	return ids
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"deals", `SELECT id, kind, status, payment, updated_at FROM deals ORDER BY updated_at DESC LIMIT 50`},
		{"deal_events", `SELECT id, deal_id, type, created_at FROM deal_events ORDER BY id DESC LIMIT 50`},
		{"ledger_accounts", `SELECT ref, balance, updated_at FROM ledger_accounts ORDER BY updated_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, published, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
