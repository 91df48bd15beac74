package listing

import (
	"time"

	"dealflow/deal"
)

// Summary captures the subset of deal data exposed to browsers. Key material
// and custody references stay internal.
type Summary struct {
	ID               string
	Kind             deal.Kind
	Status           deal.Status
	InitiatorID      string
	GoodsName        string
	GoodsDescription string
	Quantity         int
	Payment          int64
	Insurance        int64
	Location         deal.Location
	ScheduledAt      time.Time
	CreatedAt        time.Time
}
