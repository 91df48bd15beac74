package ledger

import "time"

// Account mirrors the ledger_accounts table. An account is either owned by a
// participant or is a program-controlled custody/penalty account; the ledger
// does not distinguish, it only moves value between references.
type Account struct {
	Ref       string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
