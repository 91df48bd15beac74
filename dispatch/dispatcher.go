package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealflow/addressing"
	"dealflow/deal"
)

// ErrUnhandledInstruction signals a command naming no known operation or
// deal kind.
var ErrUnhandledInstruction = errors.New("dispatch: unhandled instruction")

// Op names a lifecycle operation. Combined with the three deal kinds this
// yields the eighteen externally reachable commands.
type Op string

const (
	OpList     Op = "list"
	OpAccept   Op = "accept"
	OpComplete Op = "complete"
	OpFail     Op = "fail"
	OpExpire   Op = "expire"
	OpCancel   Op = "cancel"
)

// Command is the normalized external instruction. Params carries the
// operation-specific payload.
type Command struct {
	Op      Op              `json:"op"`
	Kind    deal.Kind       `json:"kind"`
	DealID  string          `json:"deal_id,omitempty"`
	ActorID string          `json:"actor_id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// DealService abstracts the lifecycle service for testability.
type DealService interface {
	List(ctx context.Context, params deal.ListParams) (*deal.Deal, error)
	Accept(ctx context.Context, kind deal.Kind, dealID, acceptorID string) (deal.AcceptResult, error)
	Complete(ctx context.Context, kind deal.Kind, dealID string, secrets map[deal.Role]string) (*deal.Deal, error)
	Fail(ctx context.Context, kind deal.Kind, dealID, reporterSecret string) (*deal.Deal, error)
	Expire(ctx context.Context, kind deal.Kind, dealID string) (*deal.Deal, error)
	Cancel(ctx context.Context, kind deal.Kind, dealID string) (*deal.Deal, error)
}

// Dispatcher routes commands to record loads and state-machine calls. It
// owns no business logic; errors from below surface verbatim.
type Dispatcher struct {
	deals DealService
}

func New(deals DealService) *Dispatcher {
	return &Dispatcher{deals: deals}
}

type listPayload struct {
	RecipientID      string         `json:"recipient_id,omitempty"`
	GoodsName        string         `json:"goods_name"`
	GoodsDescription string         `json:"goods_description,omitempty"`
	Quantity         int            `json:"quantity,omitempty"`
	Payment          int64          `json:"payment"`
	Location         deal.Location  `json:"location"`
	ScheduledAt      time.Time      `json:"scheduled_at"`
	PickupLocation   *deal.Location `json:"pickup_location,omitempty"`
	PickupAt         *time.Time     `json:"pickup_at,omitempty"`
}

type completePayload struct {
	Secrets map[string]string `json:"secrets"`
}

type failPayload struct {
	Secret string `json:"secret"`
}

// Dispatch executes one command and returns its result: the updated deal,
// or an AcceptResult carrying the issued secrets.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (any, error) {
	if !cmd.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrUnhandledInstruction, cmd.Kind)
	}

	// Existing records are addressed before any state-machine call; this
	// also enforces the id length bound.
	if cmd.Op != OpList {
		if _, err := addressing.Derive(string(cmd.Kind), cmd.DealID); err != nil {
			return nil, err
		}
	}

	switch cmd.Op {
	case OpList:
		var p listPayload
		if err := decode(cmd.Params, &p); err != nil {
			return nil, err
		}
		return d.deals.List(ctx, deal.ListParams{
			Kind:             cmd.Kind,
			InitiatorID:      cmd.ActorID,
			RecipientID:      p.RecipientID,
			GoodsName:        p.GoodsName,
			GoodsDescription: p.GoodsDescription,
			Quantity:         p.Quantity,
			Payment:          p.Payment,
			Location:         p.Location,
			ScheduledAt:      p.ScheduledAt,
			PickupLocation:   p.PickupLocation,
			PickupAt:         p.PickupAt,
		})
	case OpAccept:
		return d.deals.Accept(ctx, cmd.Kind, cmd.DealID, cmd.ActorID)
	case OpComplete:
		var p completePayload
		if err := decode(cmd.Params, &p); err != nil {
			return nil, err
		}
		secrets := make(map[deal.Role]string, len(p.Secrets))
		for role, secret := range p.Secrets {
			secrets[deal.Role(role)] = secret
		}
		return d.deals.Complete(ctx, cmd.Kind, cmd.DealID, secrets)
	case OpFail:
		var p failPayload
		if err := decode(cmd.Params, &p); err != nil {
			return nil, err
		}
		return d.deals.Fail(ctx, cmd.Kind, cmd.DealID, p.Secret)
	case OpExpire:
		return d.deals.Expire(ctx, cmd.Kind, cmd.DealID)
	case OpCancel:
		return d.deals.Cancel(ctx, cmd.Kind, cmd.DealID)
	default:
		return nil, fmt.Errorf("%w: op %q", ErrUnhandledInstruction, cmd.Op)
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty command payload", deal.ErrSerialization)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode command payload: %v", deal.ErrSerialization, err)
	}
	return nil
}
