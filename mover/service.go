package mover

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCoordinates signals an out-of-range position report.
var ErrInvalidCoordinates = errors.New("mover: coordinates out of range")

// ErrInvalidVerification signals an unknown verification status value.
var ErrInvalidVerification = errors.New("mover: invalid verification status")

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	Create(ctx context.Context, userID string) (Profile, error)
	GetByID(ctx context.Context, id string) (Profile, error)
	GetByUserID(ctx context.Context, userID string) (Profile, error)
	ListDispatchable(ctx context.Context, limit int) ([]Profile, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64, at time.Time) (Profile, error)
	SetOnline(ctx context.Context, id string, online bool) error
	SetVerification(ctx context.Context, id string, status VerificationStatus) error
}

// Service exposes mover profile operations. The core reads profiles; writes
// come from the location feed and admin verification actions.
type Service struct {
	repo ProfileStore
	now  func() time.Time
}

func NewService(repo ProfileStore) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Register(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, fmt.Errorf("mover: missing user id")
	}
	return s.repo.Create(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID string) (Profile, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// ReportLocation ingests one position report from the location feed.
func (s *Service) ReportLocation(ctx context.Context, profileID string, lat, lng float64) (Profile, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Profile{}, ErrInvalidCoordinates
	}
	return s.repo.UpdateLocation(ctx, profileID, lat, lng, s.now().UTC())
}

func (s *Service) SetOnline(ctx context.Context, profileID string, online bool) error {
	return s.repo.SetOnline(ctx, profileID, online)
}

// Verify records an admin verification decision.
func (s *Service) Verify(ctx context.Context, profileID string, status VerificationStatus) error {
	switch status {
	case VerificationPending, VerificationVerified, VerificationRejected:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVerification, status)
	}
	return s.repo.SetVerification(ctx, profileID, status)
}
