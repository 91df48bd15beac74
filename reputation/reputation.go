package reputation

// Status classifies a participant by their historical outcome rate.
type Status string

const (
	StatusNew        Status = "new"
	StatusCredible   Status = "credible"
	StatusReliable   Status = "reliable"
	StatusRisky      Status = "risky"
	StatusUnreliable Status = "unreliable"
	StatusSuspicious Status = "suspicious"
	StatusFraud      Status = "fraud"
)

// OutcomeKind separates plain deal outcomes from shipment outcomes so the
// two counter families stay independent.
type OutcomeKind string

const (
	OutcomeDeal     OutcomeKind = "deal"
	OutcomeShipment OutcomeKind = "shipment"
)

// Counters holds a participant's rolling outcome tallies.
type Counters struct {
	TotalDeals          int
	SuccessfulDeals     int
	FailedDeals         int
	TotalShipments      int
	SuccessfulShipments int
	FailedShipments     int
}

// Mark records one outcome and returns the recomputed status.
func (c *Counters) Mark(kind OutcomeKind, successful bool) Status {
	switch kind {
	case OutcomeShipment:
		c.TotalShipments++
		if successful {
			c.SuccessfulShipments++
		} else {
			c.FailedShipments++
		}
	default:
		c.TotalDeals++
		if successful {
			c.SuccessfulDeals++
		} else {
			c.FailedDeals++
		}
	}
	return Classify(*c)
}

// Classify derives the status from the counters. Pure function; deals and
// shipments pool into one success rate.
func Classify(c Counters) Status {
	total := c.TotalDeals + c.TotalShipments
	successful := c.SuccessfulDeals + c.SuccessfulShipments

	if total < 3 {
		return StatusNew
	}
	if total > 10 && successful == total {
		return StatusCredible
	}

	rate := float64(successful) / float64(total)
	switch {
	case rate >= 0.9:
		return StatusReliable
	case rate >= 0.7:
		return StatusRisky
	case rate >= 0.5:
		return StatusUnreliable
	case rate >= 0.2:
		return StatusSuspicious
	default:
		return StatusFraud
	}
}
