package addressing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Namespaces for derivable account references.
const (
	NamespaceOffer       = "offer"
	NamespaceRequest     = "request"
	NamespaceShipment    = "shipment"
	NamespaceCustody     = "custody"
	NamespaceParticipant = "participant"
)

// maxIDLen bounds the id component of a derivation seed. Canonical UUID
// strings fit exactly.
const maxIDLen = 36

var (
	// ErrDerivationFailed signals an invalid namespace or over-long id.
	ErrDerivationFailed = errors.New("addressing: derivation failed")
)

var validNamespaces = map[string]struct{}{
	NamespaceOffer:       {},
	NamespaceRequest:     {},
	NamespaceShipment:    {},
	NamespaceCustody:     {},
	NamespaceParticipant: {},
}

// Derive produces the deterministic ledger account reference for an entity.
// The same (namespace, id) pair always yields the same reference, so callers
// never need to persist the mapping.
func Derive(namespace, id string) (string, error) {
	if _, ok := validNamespaces[namespace]; !ok {
		return "", fmt.Errorf("%w: unknown namespace %q", ErrDerivationFailed, namespace)
	}
	if id == "" || len(id) > maxIDLen {
		return "", fmt.Errorf("%w: id length %d out of bounds", ErrDerivationFailed, len(id))
	}

	sum := sha256.Sum256([]byte(namespace + ":" + id))
	return namespace + "_" + hex.EncodeToString(sum[:16]), nil
}
