package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/deal"
	"dealflow/listing"
	"dealflow/participant"
)

// ignorable reports whether an error is expected noise rather than a
// defect: another actor won the row, funds ran short mid-run, or chaos
// killed the connection.
func ignorable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "57P01" || pgErr.Code == "40001") {
		return true
	}
	if err != nil && (strings.Contains(err.Error(), "conn closed") || strings.Contains(err.Error(), "unexpected EOF")) {
		return true
	}
	return errors.Is(err, deal.ErrIncorrectState) ||
		errors.Is(err, deal.ErrInsufficientFunds) ||
		errors.Is(err, deal.ErrNotFound) ||
		errors.Is(err, participant.ErrVersionConflict) ||
		errors.Is(err, context.Canceled)
}

// Trader drives complete deal lifecycles through the service: list, then
// either cancel, or accept and settle by completion or failure report.
func Trader(ctx context.Context, svc *deal.Service, initiatorID, acceptorID, recipientID string, stop <-chan struct{}) error {
	kinds := []deal.Kind{deal.KindOffer, deal.KindRequest, deal.KindShipment}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		kind := kinds[rand.Intn(len(kinds))]
		params := deal.ListParams{
			Kind:        kind,
			InitiatorID: initiatorID,
			GoodsName:   fmt.Sprintf("lot-%d", rand.Int63()),
			Payment:     int64(10 + rand.Intn(90)),
			Location:    deal.Location{Country: "NL", Town: "Utrecht", Address: "Dock 4"},
			ScheduledAt: time.Now().Add(time.Hour),
		}
		if kind == deal.KindShipment {
			params.RecipientID = recipientID
			params.Quantity = 1 + rand.Intn(5)
			pickup := deal.Location{Country: "NL", Town: "Rotterdam", Address: "Quay 12"}
			pickupAt := time.Now().Add(30 * time.Minute)
			params.PickupLocation = &pickup
			params.PickupAt = &pickupAt
		}

		d, err := svc.List(ctx, params)
		if err != nil {
			if ignorable(err) {
				continue
			}
			return fmt.Errorf("trader list: %w", err)
		}

		if rand.Intn(5) == 0 {
			if _, err := svc.Cancel(ctx, kind, d.ID); err != nil && !ignorable(err) {
				return fmt.Errorf("trader cancel: %w", err)
			}
			time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
			continue
		}

		res, err := svc.Accept(ctx, kind, d.ID, acceptorID)
		if err != nil {
			if ignorable(err) {
				continue
			}
			return fmt.Errorf("trader accept: %w", err)
		}

		if rand.Intn(4) == 0 {
			reporter := string(kind.ReporterRole())
			_, err = svc.Fail(ctx, kind, d.ID, res.Secrets[reporter])
		} else {
			secrets := make(map[deal.Role]string, len(res.Secrets))
			for role, secret := range res.Secrets {
				secrets[deal.Role(role)] = secret
			}
			_, err = svc.Complete(ctx, kind, d.ID, secrets)
		}
		if err != nil && !ignorable(err) {
			return fmt.Errorf("trader settle: %w", err)
		}

		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Browser reads the open book and participant histories concurrently with
// the traders mutating them.
func Browser(ctx context.Context, svc *listing.Service, participantID string, stop <-chan struct{}) error {
	kinds := []deal.Kind{deal.KindOffer, deal.KindRequest, deal.KindShipment}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		kind := kinds[rand.Intn(len(kinds))]
		summaries, err := svc.Open(ctx, kind, 20)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("browser open: %w", err)
		}
		if len(summaries) > 0 {
			pick := summaries[rand.Intn(len(summaries))]
			if _, err := svc.GetByID(ctx, pick.ID); err != nil && !ignorable(err) && !errors.Is(err, listing.ErrNotFound) {
				return fmt.Errorf("browser get: %w", err)
			}
		}
		if _, err := svc.ByParticipant(ctx, participantID, 20); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("browser history: %w", err)
		}

		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker consumes unpublished outbox rows with SKIP LOCKED so multiple
// workers never double-publish.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE NOT published ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			_, _ = tx.Exec(ctx, `UPDATE outbox SET published = true WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
