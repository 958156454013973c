package move

import "time"

type Category string

const (
	CategoryScheduled Category = "scheduled"
	CategoryInstant   Category = "instant"
)

// Move is one relocation job from pickup to dropoff. MoverProfileID stays nil
// until a mover wins the offer round for this move.
type Move struct {
	ID             string
	Handle         string
	ClientID       string
	MoverProfileID *string
	Status         Status
	Category       Category
	PickupLat      *float64
	PickupLng      *float64
	DropoffLat     *float64
	DropoffLng     *float64
	ScheduledFor   *time.Time
	PriceCents     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	CompletedAt    *time.Time
}

// HistoryEntry is one immutable audit record of a status transition.
type HistoryEntry struct {
	ID         int64
	MoveID     string
	FromStatus Status
	ToStatus   Status
	ChangedBy  string
	Note       *string
	ChangedAt  time.Time
}

// HasPickup reports whether the move carries pickup coordinates. Dispatch
// refuses to broadcast without them.
func (m Move) HasPickup() bool {
	return m.PickupLat != nil && m.PickupLng != nil
}
