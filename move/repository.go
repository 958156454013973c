package move

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
	// ErrNotFound signals the requested move does not exist.
	ErrNotFound = errors.New("move: not found")
	// ErrStatusChanged signals the conditional status write found a different
	// persisted status than the caller observed.
	ErrStatusChanged = errors.New("move: status changed concurrently")
	// ErrDuplicateHandle signals a handle collision on insert.
	ErrDuplicateHandle = errors.New("move: duplicate handle")
)

// Repository defines the data access required by the move service.
type Repository interface {
	Create(ctx context.Context, m Move) (Move, error)
	GetByID(ctx context.Context, id string) (Move, error)
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]Move, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) (Move, error)
	AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error
	History(ctx context.Context, moveID string) ([]HistoryEntry, error)
}

// UpdateStatusParams describes one conditional status write. The update only
// lands when the persisted status still equals From; zero rows means the
// caller lost a race and must re-read.
type UpdateStatusParams struct {
	MoveID         string
	From           Status
	To             Status
	MoverProfileID *string // set together with the flip when non-nil
	Now            time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed move repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const moveColumns = `id, handle, client_id, mover_profile_id, status::text, category::text,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, scheduled_for, price_cents,
	created_at, updated_at, paid_at, completed_at`

func scanMove(row pgx.Row) (Move, error) {
	var (
		m        Move
		status   string
		category string
	)
	err := row.Scan(
		&m.ID,
		&m.Handle,
		&m.ClientID,
		&m.MoverProfileID,
		&status,
		&category,
		&m.PickupLat,
		&m.PickupLng,
		&m.DropoffLat,
		&m.DropoffLng,
		&m.ScheduledFor,
		&m.PriceCents,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.PaidAt,
		&m.CompletedAt,
	)
	if err != nil {
		return Move{}, err
	}
	m.Status = Status(status)
	m.Category = Category(category)
	return m, nil
}

// Create inserts a new move in draft status.
func (r *PGRepository) Create(ctx context.Context, m Move) (Move, error) {
	const insertSQL = `
		INSERT INTO moves (id, handle, client_id, status, category, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, scheduled_for, price_cents)
		VALUES ($1, $2, $3, $4::move_status, $5::move_category, $6, $7, $8, $9, $10, $11)
		RETURNING ` + moveColumns

	created, err := scanMove(r.pool.QueryRow(ctx, insertSQL,
		m.ID,
		m.Handle,
		m.ClientID,
		m.Status,
		m.Category,
		m.PickupLat,
		m.PickupLng,
		m.DropoffLat,
		m.DropoffLng,
		m.ScheduledFor,
		m.PriceCents,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Move{}, ErrDuplicateHandle
		}
		return Move{}, fmt.Errorf("move: insert: %w", err)
	}
	return created, nil
}

// GetByID fetches a move by its primary key.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Move, error) {
	m, err := scanMove(r.pool.QueryRow(ctx, `SELECT `+moveColumns+` FROM moves WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrNotFound
		}
		return Move{}, fmt.Errorf("move: get by id: %w", err)
	}
	return m, nil
}

// ListByClient fetches the client's moves, newest first.
func (r *PGRepository) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]Move, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+moveColumns+` FROM moves WHERE client_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("move: list by client: %w", err)
	}
	defer rows.Close()

	moves := make([]Move, 0, limit)
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, fmt.Errorf("move: scan: %w", err)
		}
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("move: iterate: %w", err)
	}
	return moves, nil
}

// UpdateStatus performs the conditional status flip inside the caller's
// transaction. Timestamp side effects land with the same write: paid_at on
// entry to paid, completed_at on entry to completed.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) (Move, error) {
	const updateSQL = `
		UPDATE moves
		SET status = $3::move_status,
		    mover_profile_id = COALESCE($4, mover_profile_id),
		    paid_at = CASE WHEN $3 = 'paid' THEN COALESCE(paid_at, $5) ELSE paid_at END,
		    completed_at = CASE WHEN $3 = 'completed' THEN COALESCE(completed_at, $5) ELSE completed_at END,
		    updated_at = $5
		WHERE id = $1 AND status = $2::move_status
		RETURNING ` + moveColumns

	updated, err := scanMove(tx.QueryRow(ctx, updateSQL,
		params.MoveID,
		params.From,
		params.To,
		params.MoverProfileID,
		params.Now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrStatusChanged
		}
		return Move{}, fmt.Errorf("move: update status: %w", err)
	}
	return updated, nil
}

// AppendHistory writes one audit record for an accepted transition.
func (r *PGRepository) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	const insertSQL = `
		INSERT INTO move_status_history (move_id, from_status, to_status, changed_by, note, changed_at)
		VALUES ($1, $2::move_status, $3::move_status, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, insertSQL,
		entry.MoveID,
		entry.FromStatus,
		entry.ToStatus,
		entry.ChangedBy,
		entry.Note,
		entry.ChangedAt,
	); err != nil {
		return fmt.Errorf("move: insert history: %w", err)
	}
	return nil
}

// History returns the move's audit trail in the order transitions were
// durably accepted.
func (r *PGRepository) History(ctx context.Context, moveID string) ([]HistoryEntry, error) {
	const query = `
		SELECT id, move_id, from_status::text, to_status::text, changed_by, note, changed_at
		FROM move_status_history
		WHERE move_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, moveID)
	if err != nil {
		return nil, fmt.Errorf("move: history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, 8)
	for rows.Next() {
		var (
			e    HistoryEntry
			from string
			to   string
		)
		if err := rows.Scan(&e.ID, &e.MoveID, &from, &to, &e.ChangedBy, &e.Note, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("move: scan history: %w", err)
		}
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("move: iterate history: %w", err)
	}
	return entries, nil
}
