package deal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/addressing"
	"dealflow/custody"
	"dealflow/participant"
	"dealflow/timeline"
)

// Service executes lifecycle commands. Every command is one transaction:
// the deal row and the touched participant rows are locked, the machine
// runs its validations and fund movements, and record, timeline, and outbox
// writes commit together or not at all.
type Service struct {
	pool         *pgxpool.Pool
	repo         *Repository
	participants *participant.Repository
	custodian    *custody.Custodian
	events       *timeline.Repository
	machine      *Machine
}

func NewService(pool *pgxpool.Pool, participants *participant.Repository, custodian *custody.Custodian, events *timeline.Repository, machine *Machine) *Service {
	if machine == nil {
		machine = NewMachine(nil)
	}
	return &Service{
		pool:         pool,
		repo:         NewRepository(),
		participants: participants,
		custodian:    custodian,
		events:       events,
		machine:      machine,
	}
}

// txFunds binds the custodian to the command's transaction.
type txFunds struct {
	tx        pgx.Tx
	custodian *custody.Custodian
}

func (f txFunds) Balance(ctx context.Context, ref string) (int64, error) {
	return f.custodian.Balance(ctx, f.tx, ref)
}

func (f txFunds) Lock(ctx context.Context, payer, custodyRef string, amount int64) error {
	return f.custodian.Lock(ctx, f.tx, payer, custodyRef, amount)
}

func (f txFunds) Release(ctx context.Context, custodyRef, payee string, amount int64) error {
	return f.custodian.Release(ctx, f.tx, custodyRef, payee, amount)
}

func (f txFunds) TransferToPenalty(ctx context.Context, custodyRef string, amount int64) error {
	return f.custodian.TransferToPenalty(ctx, f.tx, custodyRef, amount)
}

// ListParams carries the terms of a new listing. Insurance is not a
// parameter: it always equals the payment at listing time.
type ListParams struct {
	Kind             Kind
	InitiatorID      string
	RecipientID      string // shipments only
	GoodsName        string
	GoodsDescription string
	Quantity         int // shipments only
	Payment          int64
	Location         Location
	ScheduledAt      time.Time
	PickupLocation   *Location  // shipments only
	PickupAt         *time.Time // shipments only
}

// List creates a deal in Listed with the initiator's lock in custody.
func (s *Service) List(ctx context.Context, params ListParams) (*Deal, error) {
	if params.InitiatorID == "" {
		return nil, fmt.Errorf("%w: initiator required", ErrInvalidTerms)
	}

	id := uuid.NewString()
	custodyRef, err := addressing.Derive(addressing.NamespaceCustody, id)
	if err != nil {
		return nil, err
	}

	d := &Deal{
		ID:               id,
		Kind:             params.Kind,
		InitiatorID:      params.InitiatorID,
		GoodsName:        params.GoodsName,
		GoodsDescription: params.GoodsDescription,
		Quantity:         params.Quantity,
		Payment:          params.Payment,
		Insurance:        params.Payment,
		Location:         params.Location,
		ScheduledAt:      params.ScheduledAt,
		PickupLocation:   params.PickupLocation,
		PickupAt:         params.PickupAt,
		CustodyRef:       custodyRef,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	initiator, err := s.participants.GetForUpdate(ctx, tx, params.InitiatorID)
	if err != nil {
		return nil, err
	}
	if params.Kind == KindShipment {
		if params.RecipientID == "" {
			return nil, fmt.Errorf("%w: shipment requires a recipient", ErrInvalidTerms)
		}
		recipient, err := s.participants.GetForUpdate(ctx, tx, params.RecipientID)
		if err != nil {
			return nil, err
		}
		d.RecipientID = &recipient.ID
	}

	if err := s.machine.List(ctx, txFunds{tx, s.custodian}, d, &initiator); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealListed, &initiator.ID, map[string]any{
		"kind":    string(d.Kind),
		"payment": d.Payment,
		"locked":  d.InitiatorLock(),
	}); err != nil {
		return nil, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.listed", map[string]any{
		"deal_id": d.ID,
		"kind":    string(d.Kind),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deal: commit list: %w", err)
	}
	return d, nil
}

// AcceptResult bundles the updated deal with the secrets issued for
// out-of-band delivery to each role.
type AcceptResult struct {
	Deal    *Deal
	Secrets map[string]string
}

// Accept moves a listed deal to Accepted under the acceptor's lock and
// issues the per-role confirmation secrets.
func (s *Service) Accept(ctx context.Context, kind Kind, dealID, acceptorID string) (AcceptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.loadKind(ctx, tx, kind, dealID)
	if err != nil {
		return AcceptResult{}, err
	}
	acceptor, err := s.participants.GetForUpdate(ctx, tx, acceptorID)
	if err != nil {
		return AcceptResult{}, err
	}

	issued, err := s.machine.Accept(ctx, txFunds{tx, s.custodian}, d, &acceptor)
	if err != nil {
		return AcceptResult{}, err
	}

	if err := s.repo.Update(ctx, tx, d); err != nil {
		return AcceptResult{}, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealAccepted, &acceptor.ID, map[string]any{
		"locked": d.AcceptorLock(),
	}); err != nil {
		return AcceptResult{}, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.accepted", map[string]any{
		"deal_id":     d.ID,
		"kind":        string(d.Kind),
		"acceptor_id": acceptor.ID,
	}); err != nil {
		return AcceptResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("deal: commit accept: %w", err)
	}
	return AcceptResult{Deal: d, Secrets: issued}, nil
}

// Complete settles an accepted deal once every role's secret is presented.
func (s *Service) Complete(ctx context.Context, kind Kind, dealID string, secrets map[Role]string) (*Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.loadKind(ctx, tx, kind, dealID)
	if err != nil {
		return nil, err
	}
	initiator, acceptor, err := s.loadParties(ctx, tx, d)
	if err != nil {
		return nil, err
	}

	if err := s.machine.Complete(ctx, txFunds{tx, s.custodian}, d, secrets, initiator, acceptor); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.participants.Save(ctx, tx, *initiator); err != nil {
		return nil, err
	}
	if err := s.participants.Save(ctx, tx, *acceptor); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealCompleted, nil, map[string]any{
		"payment":  d.Payment,
		"released": d.TotalLocked(),
	}); err != nil {
		return nil, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.completed", map[string]any{
		"deal_id": d.ID,
		"kind":    string(d.Kind),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deal: commit complete: %w", err)
	}
	return d, nil
}

// Fail aborts an accepted deal on the reporter's secret and forfeits the
// custody balance to the penalty sink.
func (s *Service) Fail(ctx context.Context, kind Kind, dealID, reporterSecret string) (*Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.loadKind(ctx, tx, kind, dealID)
	if err != nil {
		return nil, err
	}
	initiator, acceptor, err := s.loadParties(ctx, tx, d)
	if err != nil {
		return nil, err
	}

	penalized := acceptor
	if d.Kind.PenalizedRole() == d.Kind.InitiatorRole() {
		penalized = initiator
	}

	if err := s.machine.Fail(ctx, txFunds{tx, s.custodian}, d, reporterSecret, penalized); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.participants.Save(ctx, tx, *penalized); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealFailed, nil, map[string]any{
		"forfeited": d.TotalLocked(),
	}); err != nil {
		return nil, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.failed", map[string]any{
		"deal_id": d.ID,
		"kind":    string(d.Kind),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deal: commit fail: %w", err)
	}
	return d, nil
}

// Expire refunds both parties once the grace window has elapsed. The
// transition is time-driven and needs no party action.
func (s *Service) Expire(ctx context.Context, kind Kind, dealID string) (*Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.loadKind(ctx, tx, kind, dealID)
	if err != nil {
		return nil, err
	}
	initiator, acceptor, err := s.loadParties(ctx, tx, d)
	if err != nil {
		return nil, err
	}

	if err := s.machine.Expire(ctx, txFunds{tx, s.custodian}, d, initiator, acceptor); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealExpired, nil, map[string]any{
		"refunded": d.TotalLocked(),
	}); err != nil {
		return nil, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.expired", map[string]any{
		"deal_id": d.ID,
		"kind":    string(d.Kind),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deal: commit expire: %w", err)
	}
	return d, nil
}

// Cancel withdraws a listed deal and refunds the initiator.
func (s *Service) Cancel(ctx context.Context, kind Kind, dealID string) (*Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.loadKind(ctx, tx, kind, dealID)
	if err != nil {
		return nil, err
	}
	initiator, err := s.participants.GetForUpdate(ctx, tx, d.InitiatorID)
	if err != nil {
		return nil, err
	}

	if err := s.machine.Cancel(ctx, txFunds{tx, s.custodian}, d, &initiator); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, tx, d.ID, timeline.TypeDealCanceled, &initiator.ID, map[string]any{
		"refunded": d.InitiatorLock(),
	}); err != nil {
		return nil, err
	}
	if err := enqueueOutbox(ctx, tx, "deal.canceled", map[string]any{
		"deal_id": d.ID,
		"kind":    string(d.Kind),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deal: commit cancel: %w", err)
	}
	return d, nil
}

// loadKind fetches and locks the deal, treating a kind mismatch as not
// found: offer commands must not touch request or shipment records.
func (s *Service) loadKind(ctx context.Context, tx pgx.Tx, kind Kind, dealID string) (*Deal, error) {
	d, err := s.repo.GetForUpdate(ctx, tx, dealID)
	if err != nil {
		return nil, err
	}
	if kind != "" && d.Kind != kind {
		return nil, ErrNotFound
	}
	return d, nil
}

// loadParties locks both active participants of an accepted deal.
func (s *Service) loadParties(ctx context.Context, tx pgx.Tx, d *Deal) (*participant.Participant, *participant.Participant, error) {
	initiator, err := s.participants.GetForUpdate(ctx, tx, d.InitiatorID)
	if err != nil {
		return nil, nil, err
	}
	if d.AcceptorID == nil {
		return nil, nil, ErrIncorrectState
	}
	acceptor, err := s.participants.GetForUpdate(ctx, tx, *d.AcceptorID)
	if err != nil {
		return nil, nil, err
	}
	return &initiator, &acceptor, nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("deal: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("deal: enqueue outbox: %w", err)
	}
	return nil
}
