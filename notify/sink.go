package notify

import (
	"context"
	"log"
)

// Sink delivers one notification to the outside world (push gateway, email
// relay, ...). Implementations must not be relied on for durability; the
// outbox row is the source of truth until MarkSent lands.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the process log. It stands in for a real
// delivery channel in development and in the stress harness.
type LogSink struct{}

func (LogSink) Send(_ context.Context, n Notification) error {
	log.Printf("notify: user=%s kind=%s title=%q", n.UserID, n.Kind, n.Title)
	return nil
}
