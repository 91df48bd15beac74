package timeline

import "time"

// Event captures an immutable business event for a deal. Events are written
// in the same transaction as the transition they describe, so the timeline
// never disagrees with the record.
type Event struct {
	ID        int64
	DealID    string
	Type      string
	ActorID   *string
	Payload   []byte
	CreatedAt time.Time
}

// Event types appended by deal transitions.
const (
	TypeDealListed    = "DEAL_LISTED"
	TypeDealAccepted  = "DEAL_ACCEPTED"
	TypeDealCompleted = "DEAL_COMPLETED"
	TypeDealFailed    = "DEAL_FAILED"
	TypeDealExpired   = "DEAL_EXPIRED"
	TypeDealCanceled  = "DEAL_CANCELED"
)
