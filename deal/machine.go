package deal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dealflow/keyexchange"
	"dealflow/participant"
)

var (
	// ErrIncorrectState signals the transition is not an edge of the
	// lifecycle graph from the deal's current status.
	ErrIncorrectState = errors.New("deal: incorrect state")
	// ErrOperationNotAllowed signals a time gate has not been satisfied yet.
	ErrOperationNotAllowed = errors.New("deal: operation not allowed")
	// ErrInsufficientFunds signals a balance shortfall detected before any
	// fund movement.
	ErrInsufficientFunds = errors.New("deal: insufficient funds")
	// ErrInvalidTerms signals malformed listing terms.
	ErrInvalidTerms = errors.New("deal: invalid terms")
	// ErrNotFound signals the deal record does not exist.
	ErrNotFound = errors.New("deal: not found")
)

// GraceWindow is how long past the scheduled meeting or drop-off time an
// accepted deal must sit unconfirmed before it becomes eligible for expiry.
const GraceWindow = 24 * time.Hour

// Funds is the custody surface a transition drives. Implementations bind it
// to the command's transaction; every call is all-or-nothing.
type Funds interface {
	Balance(ctx context.Context, ref string) (int64, error)
	Lock(ctx context.Context, payer, custodyRef string, amount int64) error
	Release(ctx context.Context, custodyRef, payee string, amount int64) error
	TransferToPenalty(ctx context.Context, custodyRef string, amount int64) error
}

// Machine applies lifecycle transitions to loaded deal records. It holds no
// storage; the surrounding service loads records, runs one transition, and
// persists the result inside a single transaction. All validity checks run
// before the first fund movement so a rejected transition leaves balances
// and records untouched.
type Machine struct {
	now func() time.Time
}

func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: now}
}

// List validates the initiator's balance against their lock, moves it into
// custody, and places the deal in Listed with one unissued key slot per role.
func (m *Machine) List(ctx context.Context, funds Funds, d *Deal, initiator *participant.Participant) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTerms, d.Kind)
	}
	if d.Payment <= 0 {
		return fmt.Errorf("%w: payment must be positive", ErrInvalidTerms)
	}
	if d.Insurance != d.Payment {
		return fmt.Errorf("%w: insurance must equal payment at listing", ErrInvalidTerms)
	}
	if d.Kind == KindShipment && d.RecipientID == nil {
		return fmt.Errorf("%w: shipment requires a recipient", ErrInvalidTerms)
	}
	if d.Status != "" {
		return ErrIncorrectState
	}

	lock := d.InitiatorLock()
	balance, err := funds.Balance(ctx, initiator.AccountRef)
	if err != nil {
		return err
	}
	if balance < lock {
		return fmt.Errorf("%w: initiator balance %d below lock %d", ErrInsufficientFunds, balance, lock)
	}

	if err := funds.Lock(ctx, initiator.AccountRef, d.CustodyRef, lock); err != nil {
		return err
	}

	roles := d.Kind.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	d.Keys = keyexchange.NewSet(names...)
	d.Status = StatusListed
	return nil
}

// Accept fills the acceptor slot, issues one fresh secret per role, locks
// the acceptor's insurance contribution, and moves the deal to Accepted.
// The issued secrets are returned for out-of-band delivery to each role.
func (m *Machine) Accept(ctx context.Context, funds Funds, d *Deal, acceptor *participant.Participant) (map[string]string, error) {
	if !CanTransition(d.Status, StatusAccepted) {
		return nil, ErrIncorrectState
	}

	lock := d.AcceptorLock()
	balance, err := funds.Balance(ctx, acceptor.AccountRef)
	if err != nil {
		return nil, err
	}
	if balance < lock {
		return nil, fmt.Errorf("%w: acceptor balance %d below lock %d", ErrInsufficientFunds, balance, lock)
	}

	if err := funds.Lock(ctx, acceptor.AccountRef, d.CustodyRef, lock); err != nil {
		return nil, err
	}

	id := acceptor.ID
	d.AcceptorID = &id
	issued := d.Keys.Issue()
	d.Status = StatusAccepted
	return issued, nil
}

// Complete validates every role's secret, and only once the whole set
// matches consumes all slots and settles: payment to the providing role,
// each insurance leg back to the party that locked it. Both active parties
// are marked successful.
func (m *Machine) Complete(ctx context.Context, funds Funds, d *Deal, secrets map[Role]string, initiator, acceptor *participant.Participant) error {
	if !CanTransition(d.Status, StatusCompleted) {
		return ErrIncorrectState
	}

	presented := make(map[string]string, len(secrets))
	for role, secret := range secrets {
		presented[string(role)] = secret
	}
	if err := d.Keys.ValidateAll(presented); err != nil {
		return err
	}

	expected := d.TotalLocked()
	balance, err := funds.Balance(ctx, d.CustodyRef)
	if err != nil {
		return err
	}
	if balance < expected {
		return fmt.Errorf("%w: custody balance %d below expected release %d", ErrInsufficientFunds, balance, expected)
	}

	d.Keys.ConsumeAll()

	payee := initiator
	if d.Kind.PayeeRole() == d.Kind.AcceptorRole() {
		payee = acceptor
	}
	if err := funds.Release(ctx, d.CustodyRef, payee.AccountRef, d.Payment); err != nil {
		return err
	}
	if refund := d.insuranceRefund(d.Kind.InitiatorRole()); refund > 0 {
		if err := funds.Release(ctx, d.CustodyRef, initiator.AccountRef, refund); err != nil {
			return err
		}
	}
	if refund := d.insuranceRefund(d.Kind.AcceptorRole()); refund > 0 {
		if err := funds.Release(ctx, d.CustodyRef, acceptor.AccountRef, refund); err != nil {
			return err
		}
	}

	markOutcome(initiator, d.Kind, true)
	markOutcome(acceptor, d.Kind, true)
	d.Status = StatusCompleted
	return nil
}

// Fail lets the reporting role abort a deal that progressed past handoff.
// The reporter's secret is validated and consumed, the remaining slots are
// cleared, the whole custody balance is forfeited to the penalty sink, and
// the non-reporting counterparty is marked failed.
func (m *Machine) Fail(ctx context.Context, funds Funds, d *Deal, reporterSecret string, penalized *participant.Participant) error {
	if !CanTransition(d.Status, StatusFailed) {
		return ErrIncorrectState
	}

	reporter := string(d.Kind.ReporterRole())
	if err := d.Keys.Validate(reporter, reporterSecret); err != nil {
		return err
	}

	d.Keys.ConsumeAll()

	if err := funds.TransferToPenalty(ctx, d.CustodyRef, d.TotalLocked()); err != nil {
		return err
	}

	markOutcome(penalized, d.Kind, false)
	d.Status = StatusFailed
	return nil
}

// Expire refunds both parties in full once the grace window past the
// scheduled time has elapsed. No penalty, no reputation effect.
func (m *Machine) Expire(ctx context.Context, funds Funds, d *Deal, initiator, acceptor *participant.Participant) error {
	if !CanTransition(d.Status, StatusExpired) {
		return ErrIncorrectState
	}
	if !m.now().After(d.ScheduledAt.Add(GraceWindow)) {
		return fmt.Errorf("%w: grace window has not elapsed", ErrOperationNotAllowed)
	}

	if err := funds.Release(ctx, d.CustodyRef, initiator.AccountRef, d.InitiatorLock()); err != nil {
		return err
	}
	if err := funds.Release(ctx, d.CustodyRef, acceptor.AccountRef, d.AcceptorLock()); err != nil {
		return err
	}

	d.Keys.ConsumeAll()
	d.Status = StatusExpired
	return nil
}

// Cancel withdraws a deal nobody accepted yet, refunding the initiator's
// lock in full.
func (m *Machine) Cancel(ctx context.Context, funds Funds, d *Deal, initiator *participant.Participant) error {
	if !CanTransition(d.Status, StatusCanceled) {
		return ErrIncorrectState
	}

	if err := funds.Release(ctx, d.CustodyRef, initiator.AccountRef, d.InitiatorLock()); err != nil {
		return err
	}

	d.Status = StatusCanceled
	return nil
}

func markOutcome(p *participant.Participant, kind Kind, successful bool) {
	p.Status = p.Counters.Mark(kind.OutcomeKind(), successful)
}
