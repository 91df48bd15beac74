package deal

import (
	"time"

	"dealflow/keyexchange"
	"dealflow/reputation"
)

// Kind selects which of the three symmetric lifecycles a deal follows.
type Kind string

const (
	KindOffer    Kind = "offer"    // seller lists goods, buyer accepts
	KindRequest  Kind = "request"  // buyer lists a want, seller accepts
	KindShipment Kind = "shipment" // sender lists, carrier accepts, recipient confirms
)

// Role names the parties a deal kind involves. Roles double as the key slot
// names in the deal's confirmation key set.
type Role string

const (
	RoleSeller    Role = "seller"
	RoleBuyer     Role = "buyer"
	RoleSender    Role = "sender"
	RoleCarrier   Role = "carrier"
	RoleRecipient Role = "recipient"
)

// Location describes a meeting, pickup, or drop-off point.
type Location struct {
	Country string `json:"country"`
	Town    string `json:"town"`
	Address string `json:"address"`
}

// Deal is the generic record shared by offers, requests, and shipments.
// The kind decides which roles the party slots map to and how the locked
// amounts split between them.
type Deal struct {
	ID          string
	Kind        Kind
	Status      Status
	InitiatorID string
	AcceptorID  *string // unset until acceptance
	RecipientID *string // shipments only, fixed at listing

	GoodsName        string
	GoodsDescription string
	Quantity         int // shipments only

	Payment   int64
	Insurance int64

	Location    Location  // meeting point, or drop-off point for shipments
	ScheduledAt time.Time // meeting datetime, or drop-off datetime

	PickupLocation *Location  // shipments only
	PickupAt       *time.Time // shipments only

	Keys       keyexchange.Set
	CustodyRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the kind is one of the three known lifecycles.
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindRequest, KindShipment:
		return true
	}
	return false
}

// Roles returns the key-holding roles for the kind: two for offers and
// requests, three for shipments.
func (k Kind) Roles() []Role {
	if k == KindShipment {
		return []Role{RoleSender, RoleCarrier, RoleRecipient}
	}
	return []Role{RoleSeller, RoleBuyer}
}

// InitiatorRole is the role that lists the deal.
func (k Kind) InitiatorRole() Role {
	switch k {
	case KindRequest:
		return RoleBuyer
	case KindShipment:
		return RoleSender
	default:
		return RoleSeller
	}
}

// AcceptorRole is the role that accepts a listed deal.
func (k Kind) AcceptorRole() Role {
	switch k {
	case KindRequest:
		return RoleSeller
	case KindShipment:
		return RoleCarrier
	default:
		return RoleBuyer
	}
}

// PayeeRole is the providing role that receives the payment on completion.
func (k Kind) PayeeRole() Role {
	if k == KindShipment {
		return RoleCarrier
	}
	return RoleSeller
}

// ReporterRole is the role whose secret authorizes a fail transition.
func (k Kind) ReporterRole() Role {
	if k == KindShipment {
		return RoleSender
	}
	return RoleSeller
}

// PenalizedRole is the counterparty marked failed when a deal fails.
func (k Kind) PenalizedRole() Role {
	if k == KindShipment {
		return RoleCarrier
	}
	return RoleBuyer
}

// OutcomeKind maps the deal kind onto the reputation counter family.
func (k Kind) OutcomeKind() reputation.OutcomeKind {
	if k == KindShipment {
		return reputation.OutcomeShipment
	}
	return reputation.OutcomeDeal
}

// InitiatorLock is the amount the initiator locks at listing: the seller's
// insurance for an offer, the buyer's payment plus insurance for a request,
// the sender's payment for a shipment.
func (d *Deal) InitiatorLock() int64 {
	switch d.Kind {
	case KindRequest:
		return d.Payment + d.Insurance
	case KindShipment:
		return d.Payment
	default:
		return d.Insurance
	}
}

// AcceptorLock is the amount the acceptor locks on acceptance: payment plus
// insurance for an offer's buyer, insurance alone for a request's seller or
// a shipment's carrier.
func (d *Deal) AcceptorLock() int64 {
	if d.Kind == KindOffer {
		return d.Payment + d.Insurance
	}
	return d.Insurance
}

// TotalLocked is the custody balance expected while the deal is Accepted.
func (d *Deal) TotalLocked() int64 {
	return d.InitiatorLock() + d.AcceptorLock()
}

// insuranceRefund is the part of a party's lock returned to them on
// completion: everything except the payment, which goes to the payee.
func (d *Deal) insuranceRefund(role Role) int64 {
	lock := d.InitiatorLock()
	if role == d.Kind.AcceptorRole() {
		lock = d.AcceptorLock()
	}
	payer := d.payerRole()
	if role == payer {
		return lock - d.Payment
	}
	return lock
}

// payerRole is the role whose lock includes the payment.
func (d *Deal) payerRole() Role {
	if d.Kind == KindOffer {
		return RoleBuyer
	}
	return d.Kind.InitiatorRole()
}

// ParticipantID resolves a role to the participant occupying it, if set.
func (d *Deal) ParticipantID(role Role) (string, bool) {
	switch role {
	case d.Kind.InitiatorRole():
		return d.InitiatorID, d.InitiatorID != ""
	case d.Kind.AcceptorRole():
		if d.AcceptorID == nil {
			return "", false
		}
		return *d.AcceptorID, true
	case RoleRecipient:
		if d.Kind != KindShipment || d.RecipientID == nil {
			return "", false
		}
		return *d.RecipientID, true
	}
	return "", false
}
