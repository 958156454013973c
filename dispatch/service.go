package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moveflow/move"
)

// DefaultOfferTTL is how long a mover has to respond to an offer. Sixty
// seconds balances mover response time against client wait tolerance.
const DefaultOfferTTL = 60 * time.Second

// ErrMissingPickup signals a broadcast against a move without pickup
// coordinates.
var ErrMissingPickup = errors.New("dispatch: move has no pickup coordinates")

// MoveSource supplies the move being dispatched. move.Repository satisfies it.
type MoveSource interface {
	GetByID(ctx context.Context, id string) (move.Move, error)
}

// CandidateFinder abstracts the geo matcher for the engine.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, pickupLat, pickupLng float64, maxResults int, radiusKm float64) ([]Candidate, error)
}

// Engine runs broadcast rounds: match candidates near the pickup, create one
// time-boxed pending request per candidate. Rounds are independent; the
// engine never retries on its own and never touches the move's status.
type Engine struct {
	moves      MoveSource
	matcher    CandidateFinder
	offers     RequestRepository
	offerTTL   time.Duration
	maxResults int
	radiusKm   float64
	idGen      func() string
	now        func() time.Time
}

func NewEngine(moves MoveSource, matcher CandidateFinder, offers RequestRepository) *Engine {
	return &Engine{
		moves:      moves,
		matcher:    matcher,
		offers:     offers,
		offerTTL:   DefaultOfferTTL,
		maxResults: DefaultMaxResults,
		radiusKm:   DefaultRadiusKm,
		idGen:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

func (e *Engine) WithOfferTTL(ttl time.Duration) *Engine {
	if ttl > 0 {
		e.offerTTL = ttl
	}
	return e
}

func (e *Engine) WithRadiusKm(radius float64) *Engine {
	if radius > 0 {
		e.radiusKm = radius
	}
	return e
}

func (e *Engine) WithMaxResults(n int) *Engine {
	if n > 0 {
		e.maxResults = n
	}
	return e
}

func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGen = gen
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Broadcast runs one offer round for the move. A round with zero candidates
// returns an empty OfferSet; "no movers notified" is a valid outcome the
// caller decides how to react to.
func (e *Engine) Broadcast(ctx context.Context, moveID string) (OfferSet, error) {
	m, err := e.moves.GetByID(ctx, moveID)
	if err != nil {
		return OfferSet{}, err
	}
	if !m.HasPickup() {
		return OfferSet{}, fmt.Errorf("%w: move %s", ErrMissingPickup, moveID)
	}

	candidates, err := e.matcher.FindCandidates(ctx, *m.PickupLat, *m.PickupLng, e.maxResults, e.radiusKm)
	if err != nil {
		return OfferSet{}, err
	}

	set := OfferSet{MoveID: moveID, Requests: make([]Request, 0, len(candidates))}
	if len(candidates) == 0 {
		return set, nil
	}

	now := e.now().UTC()
	for _, c := range candidates {
		req := Request{
			ID:             e.idGen(),
			MoveID:         moveID,
			MoverProfileID: c.MoverProfileID,
			Status:         RequestPending,
			DistanceKm:     c.DisplayKm(),
			SentAt:         now,
			ExpiresAt:      now.Add(e.offerTTL),
		}
		created, err := e.offers.Create(ctx, req)
		if err != nil {
			// Requests already written stay live and expire passively; the
			// caller sees the round as failed and may retry.
			return OfferSet{}, err
		}
		set.Requests = append(set.Requests, created)
	}
	return set, nil
}
