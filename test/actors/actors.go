package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"moveflow/dispatch"
	"moveflow/move"
	"moveflow/mover"
	"moveflow/notify"
)

// Env bundles the services the actors drive. Actors exercise the real code
// paths, not raw SQL, so the same races the API sees happen here.
type Env struct {
	Pool    *pgxpool.Pool
	Moves   *move.Service
	Movers  *mover.Service
	Engine  *dispatch.Engine
	Arbiter *dispatch.Arbitrator
	Offers  dispatch.RequestRepository
	Notify  *notify.Dispatcher
}

// BasePickup is where the stress fleet and every stress move are placed.
var BasePickup = [2]float64{52.52, 13.405}

// ClientDriver creates moves, pays them, and broadcasts offer rounds in a
// loop. Each iteration produces a fresh contention target for the acceptors.
func ClientDriver(ctx context.Context, env Env, clientID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		lat := BasePickup[0] + (rand.Float64()-0.5)*0.02
		lng := BasePickup[1] + (rand.Float64()-0.5)*0.02
		m, err := env.Moves.Create(ctx, move.CreateParams{
			ClientID:   clientID,
			Category:   move.CategoryInstant,
			PickupLat:  &lat,
			PickupLng:  &lng,
			PriceCents: int64(10_000 + rand.Intn(90_000)),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sleepJitter(50)
			continue
		}

		for _, to := range []move.Status{move.StatusPendingPayment, move.StatusPaid} {
			if _, err := env.Moves.Transition(ctx, move.TransitionParams{MoveID: m.ID, To: to, ActorID: clientID}); err != nil {
				break
			}
		}
		_, _ = env.Engine.Broadcast(ctx, m.ID)

		sleepJitter(100)
	}
}

// Responder races the other movers on every open offer it sees. Losing the
// race, responding late, and hitting an already-settled request are all
// expected outcomes here; only infrastructure failures abort the run.
func Responder(ctx context.Context, env Env, profileID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		open, err := env.Offers.ListOpenForMover(ctx, profileID, time.Now().UTC(), 10)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sleepJitter(50)
			continue
		}
		for _, req := range open {
			if rand.Intn(4) == 0 {
				_ = env.Arbiter.Decline(ctx, req.ID, profileID)
				continue
			}
			if _, err := env.Arbiter.Accept(ctx, req.ID, profileID); err != nil {
				if !expectedDispatchErr(err) && ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
		sleepJitter(30)
	}
}

// LifecycleDriver advances every move bound to the profile one lifecycle step
// per tick, eventually completing it. Concurrent cancellations surface as
// transition rejections and are ignored.
func LifecycleDriver(ctx context.Context, env Env, profileID string, stop <-chan struct{}) error {
	progress := map[move.Status]move.Status{
		move.StatusMoverAccepted:      move.StatusMoverEnRoute,
		move.StatusMoverEnRoute:       move.StatusMoverArrived,
		move.StatusMoverArrived:       move.StatusLoading,
		move.StatusLoading:            move.StatusInTransit,
		move.StatusInTransit:          move.StatusArrivedDestination,
		move.StatusArrivedDestination: move.StatusUnloading,
		move.StatusUnloading:          move.StatusCompleted,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rows, err := env.Pool.Query(ctx,
			`SELECT id, status::text FROM moves WHERE mover_profile_id = $1 AND status NOT IN ('completed','disputed','cancelled_by_client','cancelled_by_mover') LIMIT 5`,
			profileID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sleepJitter(50)
			continue
		}
		type pair struct{ id, status string }
		var pending []pair
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.id, &p.status); err == nil {
				pending = append(pending, p)
			}
		}
		rows.Close()

		for _, p := range pending {
			next, ok := progress[move.Status(p.status)]
			if !ok {
				continue
			}
			_, _ = env.Moves.Transition(ctx, move.TransitionParams{MoveID: p.id, To: next, ActorID: profileID})
		}
		sleepJitter(40)
	}
}

// LocationJitter keeps the profile's position fresh, racing the matcher's
// reads against location writes.
func LocationJitter(ctx context.Context, env Env, profileID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		lat := BasePickup[0] + (rand.Float64()-0.5)*0.05
		lng := BasePickup[1] + (rand.Float64()-0.5)*0.05
		_, _ = env.Movers.ReportLocation(ctx, profileID, lat, lng)
		sleepJitter(60)
	}
}

// NotifyDrainer runs the outbox dispatcher against the same database the
// other actors are hammering.
func NotifyDrainer(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := env.Notify.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		sleepJitter(100)
	}
}

func expectedDispatchErr(err error) bool {
	return errors.Is(err, dispatch.ErrRequestNotPending) ||
		errors.Is(err, dispatch.ErrRequestExpired) ||
		errors.Is(err, dispatch.ErrNotRequestOwner) ||
		errors.Is(err, dispatch.ErrRequestNotFound) ||
		errors.Is(err, move.ErrNotAssignable)
}

func sleepJitter(baseMillis int) {
	time.Sleep(time.Duration(baseMillis+rand.Intn(baseMillis+1)) * time.Millisecond)
}
