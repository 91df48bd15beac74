package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_negative_balance",
			SQL:  `SELECT ref, balance FROM ledger_accounts WHERE balance < 0`,
		},
		{
			Name: "O2_terminal_custody_empty",
			SQL: `SELECT d.id, d.status, a.balance FROM deals d
                  JOIN ledger_accounts a ON a.ref = d.custody_ref
                  WHERE d.status IN ('completed','failed','expired','canceled')
                    AND a.balance <> 0`,
		},
		{
			Name: "O3_listed_custody_matches_terms",
			SQL: `SELECT d.id, d.kind, a.balance FROM deals d
                  JOIN ledger_accounts a ON a.ref = d.custody_ref
                  WHERE d.status = 'listed'
                    AND a.balance <> CASE d.kind
                        WHEN 'offer' THEN d.insurance
                        WHEN 'request' THEN d.payment + d.insurance
                        WHEN 'shipment' THEN d.payment
                    END`,
		},
		{
			Name: "O4_accepted_custody_matches_terms",
			SQL: `SELECT d.id, d.kind, a.balance FROM deals d
                  JOIN ledger_accounts a ON a.ref = d.custody_ref
                  WHERE d.status = 'accepted'
                    AND a.balance <> CASE d.kind
                        WHEN 'offer' THEN d.payment + 2 * d.insurance
                        WHEN 'request' THEN d.payment + 2 * d.insurance
                        WHEN 'shipment' THEN d.payment + d.insurance
                    END`,
		},
		{
			Name: "O5_no_live_secrets_after_terminal",
			SQL: `SELECT d.id, d.status FROM deals d
                  WHERE d.status IN ('completed','failed','expired','canceled')
                    AND EXISTS (
                        SELECT 1 FROM jsonb_each(d.keys) kv
                        WHERE kv.value->>'state' = 'issued'
                    )`,
		},
		{
			Name: "O6_acceptor_present_past_listing",
			SQL: `SELECT id, status FROM deals
                  WHERE status IN ('accepted','completed','failed','expired')
                    AND acceptor_id IS NULL`,
		},
		{
			Name: "O7_counters_consistent",
			SQL: `SELECT id, username FROM participants
                  WHERE successful_deals + failed_deals > total_deals
                     OR successful_shipments + failed_shipments > total_shipments`,
		},
		{
			Name: "O8_insurance_equals_payment",
			SQL:  `SELECT id, payment, insurance FROM deals WHERE insurance <> payment`,
		},
		{
			Name: "O9_timeline_never_empty",
			SQL: `SELECT d.id FROM deals d
                  WHERE NOT EXISTS (SELECT 1 FROM deal_events e WHERE e.deal_id = d.id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
