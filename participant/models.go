package participant

import (
	"time"

	"dealflow/reputation"
)

// Participant is the domain representation of a marketplace user: identity,
// the ledger account holding their funds, and their rolling reputation.
// It mirrors the participants table and carries no JSON annotations so it
// can be reused by different presentation layers.
type Participant struct {
	ID         string
	Username   string
	AccountRef string
	Counters   reputation.Counters
	Status     reputation.Status
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
