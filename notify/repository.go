package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists notification intents and hands batches to the
// dispatcher.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue records one pending intent. Callers treat a failure here as
// advisory; the mutation that produced the intent has already committed.
func (r *Repository) Enqueue(ctx context.Context, userID, kind, title, body string, payload map[string]any) error {
	if userID == "" || kind == "" {
		return fmt.Errorf("notify: user id and kind required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	const insertSQL = `
		INSERT INTO notifications (user_id, kind, title, body, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`
	if _, err := r.pool.Exec(ctx, insertSQL, userID, kind, title, body, raw); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending intents for delivery. SKIP LOCKED
// keeps concurrent dispatchers from double-claiming a row.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const query = `
		SELECT id, user_id, kind, title, body, payload, status::text, attempts, created_at, sent_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: claim pending: %w", err)
	}
	defer rows.Close()

	batch := make([]Notification, 0, limit)
	for rows.Next() {
		var (
			n      Notification
			status string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Payload, &status, &n.Attempts, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		n.Status = Status(status)
		batch = append(batch, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate batch: %w", err)
	}
	return batch, nil
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = $2, attempts = attempts + 1 WHERE id = $1`,
		id, at); err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter, moving the intent to dead once
// maxAttempts is reached.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, maxAttempts int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'dead'::notification_status ELSE status END
		WHERE id = $1
	`, id, maxAttempts); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
