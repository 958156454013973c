package notify

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultBatchSize   = 20
	defaultMaxAttempts = 5
	defaultInterval    = 2 * time.Second
)

// Dispatcher drains pending intents to a Sink. Sink failures are counted and
// eventually park the row as dead; they never propagate to whoever enqueued
// the intent.
type Dispatcher struct {
	pool        *pgxpool.Pool
	repo        *Repository
	sink        Sink
	batchSize   int
	maxAttempts int
	interval    time.Duration
	now         func() time.Time
}

func NewDispatcher(pool *pgxpool.Pool, repo *Repository, sink Sink) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		repo:        repo,
		sink:        sink,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		interval:    defaultInterval,
		now:         time.Now,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run drains batches until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				log.Printf("notify: drain batch: %v", err)
			}
		}
	}
}

// RunOnce claims and delivers a single batch, returning how many intents were
// handed to the sink successfully.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch, err := d.repo.ClaimPending(ctx, tx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range batch {
		if err := d.sink.Send(ctx, n); err != nil {
			log.Printf("notify: send %s (%s): %v", n.ID, n.Kind, err)
			if err := d.repo.MarkFailed(ctx, tx, n.ID, d.maxAttempts); err != nil {
				return sent, err
			}
			continue
		}
		if err := d.repo.MarkSent(ctx, tx, n.ID, d.now().UTC()); err != nil {
			return sent, err
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return sent, err
	}
	return sent, nil
}
