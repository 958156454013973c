package mover

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
	// ErrNotFound signals the requested mover profile does not exist.
	ErrNotFound = errors.New("mover: profile not found")
	// ErrDuplicateProfile signals the user already has a mover profile.
	ErrDuplicateProfile = errors.New("mover: profile already exists for user")
)

// Repository provides access to mover profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed mover repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, user_id, verification_status::text, is_online, last_lat, last_lng, rating, location_updated_at, created_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p            Profile
		verification string
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&verification,
		&p.IsOnline,
		&p.LastLat,
		&p.LastLng,
		&p.Rating,
		&p.LocationUpdatedAt,
		&p.CreatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	p.VerificationStatus = VerificationStatus(verification)
	return p, nil
}

// Create inserts a profile for the user in pending verification.
func (r *Repository) Create(ctx context.Context, userID string) (Profile, error) {
	const insertSQL = `
		INSERT INTO mover_profiles (user_id)
		VALUES ($1)
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, insertSQL, userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Profile{}, ErrDuplicateProfile
		}
		return Profile{}, fmt.Errorf("mover: insert profile: %w", err)
	}
	return p, nil
}

// GetByID fetches a profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM mover_profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("mover: get by id: %w", err)
	}
	return p, nil
}

// GetByUserID fetches the profile owned by the given user.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM mover_profiles WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("mover: get by user id: %w", err)
	}
	return p, nil
}

// ListDispatchable fetches movers eligible for offers: verified, online, with
// a last-known position. The page is bounded to keep matching cost flat.
func (r *Repository) ListDispatchable(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT ` + profileColumns + `
		FROM mover_profiles
		WHERE verification_status = 'verified'
		  AND is_online
		  AND last_lat IS NOT NULL
		  AND last_lng IS NOT NULL
		ORDER BY location_updated_at DESC NULLS LAST
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("mover: list dispatchable: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("mover: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mover: iterate profiles: %w", err)
	}
	return profiles, nil
}

// UpdateLocation records the latest position reported by the location feed.
func (r *Repository) UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) (Profile, error) {
	const updateSQL = `
		UPDATE mover_profiles
		SET last_lat = $2, last_lng = $3, location_updated_at = $4
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, updateSQL, id, lat, lng, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("mover: update location: %w", err)
	}
	return p, nil
}

// SetOnline flips the availability flag.
func (r *Repository) SetOnline(ctx context.Context, id string, online bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE mover_profiles SET is_online = $2 WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("mover: set online: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerification records the outcome of an admin verification review.
func (r *Repository) SetVerification(ctx context.Context, id string, status VerificationStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE mover_profiles SET verification_status = $2::verification_status WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("mover: set verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
