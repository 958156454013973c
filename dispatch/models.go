package dispatch

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
	RequestExpired  RequestStatus = "expired"
)

// Request is one time-boxed invitation sent to a specific mover for a
// specific move. ExpiresAt is advisory at write time; readers treat a pending
// request past its deadline as expired and the authoritative flip happens
// lazily on the next touch.
type Request struct {
	ID             string
	MoveID         string
	MoverProfileID string
	Status         RequestStatus
	DistanceKm     float64
	SentAt         time.Time
	ExpiresAt      time.Time
	RespondedAt    *time.Time
}

// ExpiredBy reports whether the request's deadline has passed at the given
// instant.
func (r Request) ExpiredBy(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Candidate is one ranked match produced by the geo matcher. DistanceKm is
// the raw haversine value; use DisplayKm for anything user-facing.
type Candidate struct {
	MoverProfileID string
	DistanceKm     float64
}

func (c Candidate) DisplayKm() float64 {
	return RoundKm(c.DistanceKm)
}

// OfferSet is the group of requests created by one broadcast round. An empty
// set is a valid round outcome, not an error.
type OfferSet struct {
	MoveID   string
	Requests []Request
}

func (s OfferSet) Size() int {
	return len(s.Requests)
}

// AcceptResult identifies the binding produced by a winning accept.
type AcceptResult struct {
	MoveID    string
	RequestID string
}
