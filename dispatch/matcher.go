package dispatch

import (
	"context"
	"fmt"
	"sort"

	"moveflow/mover"
)

const (
	// DefaultRadiusKm is the cutoff beyond which movers are never matched.
	DefaultRadiusKm = 15.0
	// DefaultMaxResults caps how many movers one round invites.
	DefaultMaxResults = 10
	// candidatePageSize bounds the profile fetch so matching cost stays flat
	// regardless of fleet size.
	candidatePageSize = 100
)

// ProfileSource supplies the dispatchable mover page. mover.Repository
// satisfies it.
type ProfileSource interface {
	ListDispatchable(ctx context.Context, limit int) ([]mover.Profile, error)
}

// Matcher ranks eligible movers by great-circle distance from a pickup point.
type Matcher struct {
	profiles ProfileSource
}

func NewMatcher(profiles ProfileSource) *Matcher {
	return &Matcher{profiles: profiles}
}

// FindCandidates returns up to maxResults movers within radiusKm of the
// pickup, nearest first. Zero candidates is a valid outcome, not an error.
// Raw distances drive both the cutoff and the ordering; rounding is applied
// only when a distance is shown to someone.
func (m *Matcher) FindCandidates(ctx context.Context, pickupLat, pickupLng float64, maxResults int, radiusKm float64) ([]Candidate, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	profiles, err := m.profiles.ListDispatchable(ctx, candidatePageSize)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		if !p.HasLocation() {
			continue
		}
		d := HaversineKm(pickupLat, pickupLng, *p.LastLat, *p.LastLng)
		if d > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{MoverProfileID: p.ID, DistanceKm: d})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates, nil
}
