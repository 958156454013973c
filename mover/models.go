package mover

import "time"

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Profile is a mover's operational record. Last-known coordinates come from
// the location feed and may be absent for movers that never reported one;
// such movers are invisible to dispatch.
type Profile struct {
	ID                 string
	UserID             string
	VerificationStatus VerificationStatus
	IsOnline           bool
	LastLat            *float64
	LastLng            *float64
	Rating             float64
	LocationUpdatedAt  *time.Time
	CreatedAt          time.Time
}

// HasLocation reports whether the profile carries a usable last-known
// position.
func (p Profile) HasLocation() bool {
	return p.LastLat != nil && p.LastLng != nil
}
