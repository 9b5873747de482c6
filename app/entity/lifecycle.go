package entity

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusConfirmed  PaymentStatus = "confirmed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending,
		PaymentStatusAuthorized,
		PaymentStatusConfirmed,
		PaymentStatusFailed,
		PaymentStatusRefunded,
		PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Settled reports whether the caller service should be told about the status.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentStatusConfirmed,
		PaymentStatusFailed,
		PaymentStatusRefunded,
		PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Transition is a lifecycle event applied to a payment.
type Transition string

const (
	TransitionAuthorize Transition = "authorize"
	TransitionCapture   Transition = "capture"
	TransitionRefund    Transition = "refund"
	TransitionFail      Transition = "fail"
	TransitionCancel    Transition = "cancel"
)

// The refund edge lands on refunded only once the whole captured amount has
// been returned; partial refunds keep the payment confirmed.
var transitions = map[PaymentStatus]map[Transition]PaymentStatus{
	PaymentStatusPending: {
		TransitionAuthorize: PaymentStatusAuthorized,
		TransitionFail:      PaymentStatusFailed,
		TransitionCancel:    PaymentStatusCancelled,
	},
	PaymentStatusAuthorized: {
		TransitionCapture: PaymentStatusConfirmed,
		TransitionFail:    PaymentStatusFailed,
		TransitionCancel:  PaymentStatusCancelled,
	},
	PaymentStatusConfirmed: {
		TransitionRefund: PaymentStatusRefunded,
	},
}

// graphOrder fixes the order edges are explored in PathTo so the resolved path
// is deterministic.
var graphOrder = []Transition{
	TransitionAuthorize,
	TransitionCapture,
	TransitionRefund,
	TransitionFail,
	TransitionCancel,
}

// Next returns the status reached by applying t to from, or false when the
// lifecycle graph has no such edge.
func Next(from PaymentStatus, t Transition) (PaymentStatus, bool) {
	edges, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := edges[t]
	return to, ok
}

func CanApply(from PaymentStatus, t Transition) bool {
	_, ok := Next(from, t)
	return ok
}

// PathTo returns the shortest sequence of transitions leading from one status
// to another. It returns an empty path when from equals to and false when to is
// unreachable.
func PathTo(from, to PaymentStatus) ([]Transition, bool) {
	if from == to {
		return nil, true
	}

	type node struct {
		status PaymentStatus
		path   []Transition
	}

	visited := map[PaymentStatus]bool{from: true}
	queue := []node{{status: from}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, t := range graphOrder {
			next, ok := Next(current.status, t)
			if !ok || visited[next] {
				continue
			}
			path := make([]Transition, len(current.path)+1)
			copy(path, current.path)
			path[len(current.path)] = t
			if next == to {
				return path, true
			}
			visited[next] = true
			queue = append(queue, node{status: next, path: path})
		}
	}

	return nil, false
}
