package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRequestArbitration_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies the conditional-write arbitration contract end to
// end, including the partial unique index backstop.
func TestRequestArbitration_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'move_requests')`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; apply migrations/ first")
	}

	moveID, profileA, profileB := seedDispatchFixture(t, ctx, pool)
	repo := NewRequestRepository(pool)
	now := time.Now().UTC()

	reqA, err := repo.Create(ctx, Request{
		ID: uuid.NewString(), MoveID: moveID, MoverProfileID: profileA,
		DistanceKm: 2.1, SentAt: now, ExpiresAt: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create request A: %v", err)
	}
	reqB, err := repo.Create(ctx, Request{
		ID: uuid.NewString(), MoveID: moveID, MoverProfileID: profileB,
		DistanceKm: 9.9, SentAt: now, ExpiresAt: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create request B: %v", err)
	}

	// First accept wins.
	accepted, err := repo.MarkAccepted(ctx, reqA.ID, profileA, now)
	if err != nil {
		t.Fatalf("mark accepted: %v", err)
	}
	if accepted.Status != RequestAccepted || accepted.RespondedAt == nil {
		t.Fatalf("unexpected accepted row: %+v", accepted)
	}

	// A replay of the same accept loses: the row is no longer pending.
	if _, err := repo.MarkAccepted(ctx, reqA.ID, profileA, now); !errors.Is(err, ErrLostRace) {
		t.Fatalf("replayed accept: expected ErrLostRace, got %v", err)
	}

	// The partial unique index rejects a second winner for the same move.
	if _, err := repo.MarkAccepted(ctx, reqB.ID, profileB, now); !errors.Is(err, ErrLostRace) {
		t.Fatalf("sibling accept: expected ErrLostRace, got %v", err)
	}

	// Sweep whatever is still pending.
	if _, err := repo.DeclineSiblings(ctx, moveID, reqA.ID, now); err != nil {
		t.Fatalf("decline siblings: %v", err)
	}
	swept, err := repo.GetByID(ctx, reqB.ID)
	if err != nil {
		t.Fatalf("get swept sibling: %v", err)
	}
	if swept.Status != RequestDeclined {
		t.Errorf("sibling status = %s, want declined", swept.Status)
	}
}

func TestLazyExpiry_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'move_requests')`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; apply migrations/ first")
	}

	moveID, profileA, _ := seedDispatchFixture(t, ctx, pool)
	repo := NewRequestRepository(pool)
	sentAt := time.Now().UTC().Add(-2 * time.Minute)

	stale, err := repo.Create(ctx, Request{
		ID: uuid.NewString(), MoveID: moveID, MoverProfileID: profileA,
		DistanceKm: 2.1, SentAt: sentAt, ExpiresAt: sentAt.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create stale request: %v", err)
	}

	// The mover's read sweeps the overdue row before listing.
	open, err := repo.ListOpenForMover(ctx, profileA, time.Now().UTC(), 20)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	for _, r := range open {
		if r.ID == stale.ID {
			t.Fatal("overdue request must not appear as open")
		}
	}

	got, err := repo.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != RequestExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}

	// Accepting it after the sweep loses.
	if _, err := repo.MarkAccepted(ctx, stale.ID, profileA, time.Now().UTC()); !errors.Is(err, ErrLostRace) {
		t.Fatalf("expected ErrLostRace, got %v", err)
	}
}

func seedDispatchFixture(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (moveID, profileA, profileB string) {
	t.Helper()

	var clientID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Client', 'x', 'client') RETURNING id`,
		fmt.Sprintf("client+%d@example.com", time.Now().UnixNano())).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	seedMover := func(tag string) string {
		var userID string
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Mover', 'x', 'mover') RETURNING id`,
			fmt.Sprintf("mover-%s+%d@example.com", tag, time.Now().UnixNano())).Scan(&userID); err != nil {
			t.Fatalf("seed mover user: %v", err)
		}
		var profileID string
		if err := pool.QueryRow(ctx, `
			INSERT INTO mover_profiles (user_id, verification_status, is_online, last_lat, last_lng, location_updated_at)
			VALUES ($1, 'verified', TRUE, 52.53, 13.41, now()) RETURNING id
		`, userID).Scan(&profileID); err != nil {
			t.Fatalf("seed mover profile: %v", err)
		}
		return profileID
	}
	profileA = seedMover("a")
	profileB = seedMover("b")

	if err := pool.QueryRow(ctx, `
		INSERT INTO moves (handle, client_id, status, pickup_lat, pickup_lng, price_cents)
		VALUES ($1, $2, 'paid', 52.52, 13.405, 50000) RETURNING id
	`, fmt.Sprintf("MV-%08X", time.Now().UnixNano()&0xFFFFFFFF), clientID).Scan(&moveID); err != nil {
		t.Fatalf("seed move: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM move_requests WHERE move_id = $1`, moveID)
		_, _ = pool.Exec(ctx2, `DELETE FROM moves WHERE id = $1`, moveID)
		_, _ = pool.Exec(ctx2, `DELETE FROM mover_profiles WHERE id IN ($1, $2)`, profileA, profileB)
	})

	return moveID, profileA, profileB
}
