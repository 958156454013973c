package notify

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusDead    Status = "dead"
)

// Notification is one intent addressed to a user, recorded by the core as a
// side-effect descriptor and delivered out-of-band by the dispatcher. Its
// delivery is fire-and-forget from the core's perspective.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Body      string
	Payload   []byte
	Status    Status
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}
