package deal

// Status is the lifecycle position of a deal. Terminal statuses are
// archival: no transition ever leaves them.
type Status string

const (
	StatusListed    Status = "listed"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCanceled  Status = "canceled"
)

// validTransitions is the complete lifecycle graph. Any edge not listed
// here is rejected with ErrIncorrectState.
var validTransitions = map[Status][]Status{
	StatusListed:   {StatusAccepted, StatusCanceled},
	StatusAccepted: {StatusCompleted, StatusFailed, StatusExpired},
}

// CanTransition reports whether from → to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCanceled:
		return true
	}
	return false
}
