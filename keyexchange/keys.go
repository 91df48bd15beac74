package keyexchange

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrKeyMismatch signals the presented secret does not match the slot.
	ErrKeyMismatch = errors.New("keyexchange: key mismatch")
	// ErrKeyConsumed signals the slot's secret was already used.
	ErrKeyConsumed = errors.New("keyexchange: key already consumed")
	// ErrKeyNotIssued signals no secret has been issued for the role yet.
	ErrKeyNotIssued = errors.New("keyexchange: key not issued")
	// ErrUnknownRole signals the role has no slot in the set.
	ErrUnknownRole = errors.New("keyexchange: unknown role")
)

// SlotState tracks the lifecycle of a per-role confirmation secret.
type SlotState string

const (
	SlotUnissued SlotState = "unissued"
	SlotIssued   SlotState = "issued"
	SlotConsumed SlotState = "consumed"
)

// Slot holds one role's confirmation secret. Once consumed the secret is
// wiped and the slot can never validate again.
type Slot struct {
	State  SlotState `json:"state"`
	Secret string    `json:"secret,omitempty"`
}

// Set maps role names to their secret slots. It is stored on the deal record
// itself (jsonb), so consumption state lives and dies with the deal instead
// of accumulating in a process-wide registry.
type Set map[string]Slot

// NewSet returns a set with an unissued slot per role.
func NewSet(roles ...string) Set {
	set := make(Set, len(roles))
	for _, role := range roles {
		set[role] = Slot{State: SlotUnissued}
	}
	return set
}

// Issue generates one fresh unguessable secret per role and returns the
// secrets keyed by role for out-of-band delivery. Delivery itself is out of
// scope.
func (s Set) Issue() map[string]string {
	issued := make(map[string]string, len(s))
	for role := range s {
		secret := uuid.NewString()
		s[role] = Slot{State: SlotIssued, Secret: secret}
		issued[role] = secret
	}
	return issued
}

// Validate checks the presented secret against the role's slot without
// consuming it. Comparison is constant-time.
func (s Set) Validate(role, presented string) error {
	slot, ok := s[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	switch slot.State {
	case SlotUnissued:
		return ErrKeyNotIssued
	case SlotConsumed:
		return ErrKeyConsumed
	}
	if subtle.ConstantTimeCompare([]byte(slot.Secret), []byte(presented)) != 1 {
		return ErrKeyMismatch
	}
	return nil
}

// ValidateAll checks every presented secret against its slot and requires a
// secret for every role in the set. No slot is consumed; callers consume
// only after the whole set validates.
func (s Set) ValidateAll(presented map[string]string) error {
	for role := range s {
		secret, ok := presented[role]
		if !ok {
			return fmt.Errorf("%w: missing secret for role %q", ErrKeyMismatch, role)
		}
		if err := s.Validate(role, secret); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAndConsume locates the slot owning the presented secret, consumes
// it, and reports the role. A consumed secret never matches again.
func (s Set) ValidateAndConsume(presented string) (string, error) {
	for role, slot := range s {
		if slot.State != SlotIssued {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(slot.Secret), []byte(presented)) == 1 {
			s[role] = Slot{State: SlotConsumed}
			return role, nil
		}
	}
	return "", ErrKeyMismatch
}

// ConsumeAll marks every issued slot consumed and wipes the stored secrets.
func (s Set) ConsumeAll() {
	for role, slot := range s {
		if slot.State == SlotIssued {
			s[role] = Slot{State: SlotConsumed}
		}
	}
}

// Consumed reports whether the role's slot has been consumed.
func (s Set) Consumed(role string) bool {
	return s[role].State == SlotConsumed
}
