package keyexchange

import (
	"errors"
	"testing"
)

func TestIssueFillsEverySlot(t *testing.T) {
	set := NewSet("seller", "buyer")
	issued := set.Issue()

	if len(issued) != 2 {
		t.Fatalf("expected 2 issued secrets, got %d", len(issued))
	}
	for role, secret := range issued {
		if secret == "" {
			t.Errorf("role %q issued an empty secret", role)
		}
		if err := set.Validate(role, secret); err != nil {
			t.Errorf("fresh secret for %q should validate, got %v", role, err)
		}
	}
	if issued["seller"] == issued["buyer"] {
		t.Errorf("expected distinct secrets per role")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	set := NewSet("seller", "buyer")
	set.Issue()

	if err := set.Validate("buyer", "not-the-secret"); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestValidateUnissuedSlot(t *testing.T) {
	set := NewSet("seller")
	if err := set.Validate("seller", "anything"); !errors.Is(err, ErrKeyNotIssued) {
		t.Fatalf("expected ErrKeyNotIssued, got %v", err)
	}
}

func TestValidateAllRequiresEveryRole(t *testing.T) {
	set := NewSet("sender", "carrier", "recipient")
	issued := set.Issue()

	partial := map[string]string{
		"sender":  issued["sender"],
		"carrier": issued["carrier"],
	}
	if err := set.ValidateAll(partial); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch for missing role, got %v", err)
	}

	if err := set.ValidateAll(issued); err != nil {
		t.Fatalf("expected full set to validate, got %v", err)
	}

	// ValidateAll must not consume anything.
	for role, secret := range issued {
		if err := set.Validate(role, secret); err != nil {
			t.Errorf("slot %q consumed by ValidateAll: %v", role, err)
		}
	}
}

func TestValidateAndConsumeIsSingleUse(t *testing.T) {
	set := NewSet("seller", "buyer")
	issued := set.Issue()

	role, err := set.ValidateAndConsume(issued["seller"])
	if err != nil {
		t.Fatalf("first use: %v", err)
	}
	if role != "seller" {
		t.Fatalf("expected owning role seller, got %q", role)
	}
	if !set.Consumed("seller") {
		t.Fatalf("expected seller slot consumed")
	}

	if _, err := set.ValidateAndConsume(issued["seller"]); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected reuse to be rejected, got %v", err)
	}

	// The untouched slot still works.
	if _, err := set.ValidateAndConsume(issued["buyer"]); err != nil {
		t.Fatalf("buyer secret should still consume: %v", err)
	}
}

func TestConsumedSlotNeverValidates(t *testing.T) {
	set := NewSet("seller")
	issued := set.Issue()
	set.ConsumeAll()

	if err := set.Validate("seller", issued["seller"]); !errors.Is(err, ErrKeyConsumed) {
		t.Fatalf("expected ErrKeyConsumed, got %v", err)
	}
	if slot := set["seller"]; slot.Secret != "" {
		t.Errorf("expected consumed slot secret to be wiped")
	}
}
