package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrRequestNotFound signals the move request does not exist.
	ErrRequestNotFound = errors.New("dispatch: request not found")
	// ErrLostRace signals a conditional request write found the row no longer
	// in the expected prior status.
	ErrLostRace = errors.New("dispatch: request no longer in expected status")
)

// RequestRepository defines the data access needed by the engine and the
// arbitrator. Every mutation is a single conditional write keyed on the
// previously observed status, so the first accepted write wins and later
// writers surface ErrLostRace.
type RequestRepository interface {
	Create(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	ListForMove(ctx context.Context, moveID string) ([]Request, error)
	ListOpenForMover(ctx context.Context, moverProfileID string, now time.Time, limit int) ([]Request, error)
	MarkAccepted(ctx context.Context, requestID, moverProfileID string, now time.Time) (Request, error)
	MarkDeclined(ctx context.Context, requestID, moverProfileID string, now time.Time) (Request, error)
	MarkExpired(ctx context.Context, requestID string, now time.Time) error
	RevertAccept(ctx context.Context, requestID string, now time.Time) error
	DeclineSiblings(ctx context.Context, moveID, winnerID string, now time.Time) (int64, error)
}

// PGRequestRepository implements RequestRepository backed by PostgreSQL.
type PGRequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *PGRequestRepository {
	return &PGRequestRepository{pool: pool}
}

const requestColumns = `id, move_id, mover_profile_id, status::text, distance_km, sent_at, expires_at, responded_at`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req    Request
		status string
	)
	err := row.Scan(
		&req.ID,
		&req.MoveID,
		&req.MoverProfileID,
		&status,
		&req.DistanceKm,
		&req.SentAt,
		&req.ExpiresAt,
		&req.RespondedAt,
	)
	if err != nil {
		return Request{}, err
	}
	req.Status = RequestStatus(status)
	return req, nil
}

// Create inserts one pending request for a broadcast round.
func (r *PGRequestRepository) Create(ctx context.Context, req Request) (Request, error) {
	const insertSQL = `
		INSERT INTO move_requests (id, move_id, mover_profile_id, status, distance_km, sent_at, expires_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6)
		RETURNING ` + requestColumns

	created, err := scanRequest(r.pool.QueryRow(ctx, insertSQL,
		req.ID,
		req.MoveID,
		req.MoverProfileID,
		req.DistanceKm,
		req.SentAt,
		req.ExpiresAt,
	))
	if err != nil {
		return Request{}, fmt.Errorf("dispatch: insert request: %w", err)
	}
	return created, nil
}

// GetByID fetches a request by its primary key.
func (r *PGRequestRepository) GetByID(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM move_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("dispatch: get request: %w", err)
	}
	return req, nil
}

// ListForMove returns every request ever created for a move, newest round
// first.
func (r *PGRequestRepository) ListForMove(ctx context.Context, moveID string) ([]Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM move_requests WHERE move_id = $1 ORDER BY sent_at DESC, id`, moveID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list for move: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListOpenForMover returns the mover's still-live pending requests. Requests
// past their deadline are flipped to expired on the way, so the mover's view
// never shows a stale offer.
func (r *PGRequestRepository) ListOpenForMover(ctx context.Context, moverProfileID string, now time.Time, limit int) ([]Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// Lazy expiry sweep for this mover only; there is no background expirer.
	if _, err := r.pool.Exec(ctx,
		`UPDATE move_requests SET status = 'expired' WHERE mover_profile_id = $1 AND status = 'pending' AND expires_at <= $2`,
		moverProfileID, now); err != nil {
		return nil, fmt.Errorf("dispatch: expire overdue: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM move_requests
		 WHERE mover_profile_id = $1 AND status = 'pending'
		 ORDER BY sent_at DESC LIMIT $2`,
		moverProfileID, limit)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list open for mover: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	requests := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("dispatch: scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: iterate requests: %w", err)
	}
	return requests, nil
}

// MarkAccepted is the arbitration point: flip pending -> accepted only if the
// row still belongs to the mover, is still pending, and is not past its
// deadline. Zero rows means another writer got there first (or the offer
// expired) and the caller lost.
func (r *PGRequestRepository) MarkAccepted(ctx context.Context, requestID, moverProfileID string, now time.Time) (Request, error) {
	const updateSQL = `
		UPDATE move_requests
		SET status = 'accepted', responded_at = $3
		WHERE id = $1 AND mover_profile_id = $2 AND status = 'pending' AND expires_at > $3
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, updateSQL, requestID, moverProfileID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrLostRace
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The partial unique index rejected a second acceptance for the
			// same move (a sibling from another round won).
			return Request{}, ErrLostRace
		}
		return Request{}, fmt.Errorf("dispatch: mark accepted: %w", err)
	}
	return req, nil
}

// MarkDeclined flips pending -> declined for the owning mover.
func (r *PGRequestRepository) MarkDeclined(ctx context.Context, requestID, moverProfileID string, now time.Time) (Request, error) {
	const updateSQL = `
		UPDATE move_requests
		SET status = 'declined', responded_at = $3
		WHERE id = $1 AND mover_profile_id = $2 AND status = 'pending'
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, updateSQL, requestID, moverProfileID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrLostRace
		}
		return Request{}, fmt.Errorf("dispatch: mark declined: %w", err)
	}
	return req, nil
}

// MarkExpired persists the lazy expiry of a pending request.
func (r *PGRequestRepository) MarkExpired(ctx context.Context, requestID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE move_requests SET status = 'expired' WHERE id = $1 AND status = 'pending' AND expires_at <= $2`,
		requestID, now)
	if err != nil {
		return fmt.Errorf("dispatch: mark expired: %w", err)
	}
	return nil
}

// RevertAccept undoes a winning accept whose move-side binding failed,
// releasing the slot guarded by the partial unique index.
func (r *PGRequestRepository) RevertAccept(ctx context.Context, requestID string, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE move_requests SET status = 'declined', responded_at = $2 WHERE id = $1 AND status = 'accepted'`,
		requestID, now)
	if err != nil {
		return fmt.Errorf("dispatch: revert accept: %w", err)
	}
	return nil
}

// DeclineSiblings closes every other still-pending request for the move after
// a winner is bound. Requests already past their deadline become expired
// instead of declined.
func (r *PGRequestRepository) DeclineSiblings(ctx context.Context, moveID, winnerID string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE move_requests
		SET status = CASE WHEN expires_at <= $3 THEN 'expired'::move_request_status ELSE 'declined'::move_request_status END,
		    responded_at = CASE WHEN expires_at <= $3 THEN responded_at ELSE $3 END
		WHERE move_id = $1 AND id <> $2 AND status = 'pending'
	`, moveID, winnerID, now)
	if err != nil {
		return 0, fmt.Errorf("dispatch: decline siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}
