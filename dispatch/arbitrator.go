package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"moveflow/move"
)

var (
	// ErrNotRequestOwner signals a response to someone else's offer.
	ErrNotRequestOwner = errors.New("dispatch: request belongs to another mover")
	// ErrRequestNotPending signals the offer was already answered or closed.
	ErrRequestNotPending = errors.New("dispatch: request is no longer pending")
	// ErrRequestExpired signals the offer's deadline passed before the
	// response arrived.
	ErrRequestExpired = errors.New("dispatch: request has expired")
)

// MoveAssigner binds the winning mover to the move. move.Service satisfies it.
type MoveAssigner interface {
	AssignAndAccept(ctx context.Context, moveID, moverProfileID, actorID string) (move.Move, error)
}

// Arbitrator resolves concurrent offer responses to a single winner. The
// pending -> accepted flip is a conditional write on the request row, so two
// movers accepting "simultaneously" race on the store and exactly one wins;
// the loser is told the request is no longer pending. No lock is held across
// any round trip.
type Arbitrator struct {
	offers   RequestRepository
	assigner MoveAssigner
	now      func() time.Time
}

func NewArbitrator(offers RequestRepository, assigner MoveAssigner) *Arbitrator {
	return &Arbitrator{
		offers:   offers,
		assigner: assigner,
		now:      time.Now,
	}
}

func (a *Arbitrator) WithClock(now func() time.Time) *Arbitrator {
	a.now = now
	return a
}

// Accept processes a mover's acceptance. On success the request is accepted,
// the move is bound to the mover and advanced to mover_accepted, and every
// sibling still pending is declined best-effort: the sweep's failure never
// rolls back the accept, a stale sibling simply expires on its own deadline.
func (a *Arbitrator) Accept(ctx context.Context, requestID, moverProfileID string) (AcceptResult, error) {
	if _, err := a.precheck(ctx, requestID, moverProfileID); err != nil {
		return AcceptResult{}, err
	}

	now := a.now().UTC()
	accepted, err := a.offers.MarkAccepted(ctx, requestID, moverProfileID, now)
	if err != nil {
		if errors.Is(err, ErrLostRace) {
			return AcceptResult{}, fmt.Errorf("%w: request %s", ErrRequestNotPending, requestID)
		}
		return AcceptResult{}, err
	}

	if _, err := a.assigner.AssignAndAccept(ctx, accepted.MoveID, moverProfileID, moverProfileID); err != nil {
		// The move could not be bound (e.g. cancelled between read and
		// write). Release the acceptance so the slot is not wedged.
		if revertErr := a.offers.RevertAccept(ctx, requestID, a.now().UTC()); revertErr != nil {
			log.Printf("dispatch: revert accept %s: %v", requestID, revertErr)
		}
		if errors.Is(err, move.ErrNotAssignable) {
			return AcceptResult{}, fmt.Errorf("%w: request %s", ErrRequestNotPending, requestID)
		}
		return AcceptResult{}, err
	}

	if _, err := a.offers.DeclineSiblings(ctx, accepted.MoveID, requestID, a.now().UTC()); err != nil {
		log.Printf("dispatch: decline siblings for move %s: %v", accepted.MoveID, err)
	}

	return AcceptResult{MoveID: accepted.MoveID, RequestID: requestID}, nil
}

// Decline records a mover's refusal. The move itself is untouched: it stays
// acceptable by the remaining candidates of the round, or by a fresh round if
// everyone declines.
func (a *Arbitrator) Decline(ctx context.Context, requestID, moverProfileID string) error {
	req, err := a.offers.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.MoverProfileID != moverProfileID {
		return fmt.Errorf("%w: request %s", ErrNotRequestOwner, requestID)
	}

	now := a.now().UTC()
	if req.Status == RequestPending && req.ExpiredBy(now) {
		// The decline arrived after the deadline: persist the expiry instead.
		// The mover's intent (not taking the job) is satisfied either way.
		if err := a.offers.MarkExpired(ctx, requestID, now); err != nil {
			return err
		}
		return nil
	}
	if req.Status != RequestPending {
		return fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, requestID, req.Status)
	}

	if _, err := a.offers.MarkDeclined(ctx, requestID, moverProfileID, now); err != nil {
		if errors.Is(err, ErrLostRace) {
			return fmt.Errorf("%w: request %s", ErrRequestNotPending, requestID)
		}
		return err
	}
	return nil
}

// precheck re-reads the request and rejects early on ownership, status, or
// deadline. The conditional write still re-validates everything; this only
// produces the precise error the caller should see.
func (a *Arbitrator) precheck(ctx context.Context, requestID, moverProfileID string) (Request, error) {
	req, err := a.offers.GetByID(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.MoverProfileID != moverProfileID {
		return Request{}, fmt.Errorf("%w: request %s", ErrNotRequestOwner, requestID)
	}
	if req.Status != RequestPending {
		return Request{}, fmt.Errorf("%w: request %s is %s", ErrRequestNotPending, requestID, req.Status)
	}
	now := a.now().UTC()
	if req.ExpiredBy(now) {
		if err := a.offers.MarkExpired(ctx, requestID, now); err != nil {
			log.Printf("dispatch: mark expired %s: %v", requestID, err)
		}
		return Request{}, fmt.Errorf("%w: request %s", ErrRequestExpired, requestID)
	}
	return req, nil
}
