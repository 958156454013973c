package move

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingPayment     Status = "pending_payment"
	StatusPaid               Status = "paid"
	StatusMoverAssigned      Status = "mover_assigned"
	StatusMoverAccepted      Status = "mover_accepted"
	StatusMoverEnRoute       Status = "mover_en_route"
	StatusMoverArrived       Status = "mover_arrived"
	StatusLoading            Status = "loading"
	StatusInTransit          Status = "in_transit"
	StatusArrivedDestination Status = "arrived_destination"
	StatusUnloading          Status = "unloading"
	StatusCompleted          Status = "completed"
	StatusDisputed           Status = "disputed"
	StatusCancelledByClient  Status = "cancelled_by_client"
	StatusCancelledByMover   Status = "cancelled_by_mover"
)

// transitions is the authoritative lifecycle table. Every status mutation in
// the system is validated against it; a pair absent from the table is
// rejected. Terminal states map to an empty set.
var transitions = map[Status][]Status{
	StatusDraft:              {StatusPendingPayment, StatusCancelledByClient},
	StatusPendingPayment:     {StatusPaid, StatusCancelledByClient},
	StatusPaid:               {StatusMoverAssigned, StatusCancelledByClient},
	StatusMoverAssigned:      {StatusMoverAccepted, StatusCancelledByMover},
	StatusMoverAccepted:      {StatusMoverEnRoute, StatusCancelledByMover, StatusCancelledByClient},
	StatusMoverEnRoute:       {StatusMoverArrived, StatusCancelledByMover},
	StatusMoverArrived:       {StatusLoading},
	StatusLoading:            {StatusInTransit},
	StatusInTransit:          {StatusArrivedDestination},
	StatusArrivedDestination: {StatusUnloading},
	StatusUnloading:          {StatusCompleted},
	StatusCompleted:          {StatusDisputed},
	StatusDisputed:           {StatusCompleted},
	StatusCancelledByClient:  {},
	StatusCancelledByMover:   {},
}

// IsValid reports whether s is one of the known lifecycle statuses.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leads out of s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.IsValid()
}

// AllowedFrom returns the statuses reachable from s. The returned slice is a
// copy; callers may keep it.
func AllowedFrom(s Status) []Status {
	allowed := transitions[s]
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected status change together with the
// set that would have been accepted, so callers can distinguish a stale view
// from genuine misuse.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("move: invalid transition %s -> %s (terminal status)", e.From, e.To)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("move: invalid transition %s -> %s (allowed: %s)", e.From, e.To, strings.Join(names, ", "))
}

// notifyKinds enumerates the statuses whose entry warrants a client
// notification, keyed to the intent kind published on the outbox.
var notifyKinds = map[Status]string{
	StatusMoverAccepted:      "move.mover_accepted",
	StatusMoverEnRoute:       "move.mover_en_route",
	StatusMoverArrived:       "move.mover_arrived",
	StatusLoading:            "move.loading",
	StatusInTransit:          "move.in_transit",
	StatusArrivedDestination: "move.arrived_destination",
	StatusCompleted:          "move.completed",
	StatusCancelledByMover:   "move.cancelled_by_mover",
}

var notifyTitles = map[Status]string{
	StatusMoverAccepted:      "A mover accepted your move",
	StatusMoverEnRoute:       "Your mover is on the way",
	StatusMoverArrived:       "Your mover has arrived",
	StatusLoading:            "Loading has started",
	StatusInTransit:          "Your belongings are in transit",
	StatusArrivedDestination: "Your mover reached the destination",
	StatusCompleted:          "Your move is complete",
	StatusCancelledByMover:   "Your mover cancelled the move",
}

// NotifyKind returns the notification kind for a status the client should be
// told about, or "" when the transition is silent.
func NotifyKind(s Status) string {
	return notifyKinds[s]
}
