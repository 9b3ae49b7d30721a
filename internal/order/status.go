package order

// Status is the lifecycle state of an order. Earlier revisions of the system
// carried a finer-grained set (amo, pending_execution, retry_pending,
// rejected); those now only survive as free-text reason values.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOngoing   Status = "ongoing"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusClosed    Status = "closed"
)

// Terminal reports whether no further transition may originate from s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOngoing, StatusFailed, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending: {StatusOngoing, StatusFailed, StatusClosed, StatusCancelled},
	StatusFailed:  {StatusPending, StatusCancelled, StatusOngoing, StatusClosed},
	StatusOngoing: {StatusClosed},
}

// CanTransition reports whether from -> to is a legal state change.
// pending may also move straight to closed (a sell that fills immediately) or
// cancelled (stale-order sweep); failed may move to ongoing/closed when a
// manual order that already filled is linked onto it.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
