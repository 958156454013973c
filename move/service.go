package move

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrUnknownStatus signals a requested status outside the lifecycle table.
	ErrUnknownStatus = errors.New("move: unknown status")
	// ErrNotAssignable signals an accept against a move that is not awaiting
	// assignment (already bound, cancelled, or not yet paid).
	ErrNotAssignable = errors.New("move: not awaiting mover assignment")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NotificationWriter records a notification intent addressed to a user. The
// write is advisory: it happens after the primary mutation commits and its
// failure is logged, never propagated.
type NotificationWriter interface {
	Enqueue(ctx context.Context, userID, kind, title, body string, payload map[string]any) error
}

// Service owns every mutation of a move's status. All writes funnel through
// the lifecycle table in status.go; each accepted transition appends one
// history record and, for the notify-worthy subset, one notification intent.
type Service struct {
	pool     TxBeginner
	repo     Repository
	notifier NotificationWriter
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, notifier NotificationWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		notifier: notifier,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams carries the client-supplied fields for a new move.
type CreateParams struct {
	ClientID     string
	Category     Category
	PickupLat    *float64
	PickupLng    *float64
	DropoffLat   *float64
	DropoffLng   *float64
	ScheduledFor *time.Time
	PriceCents   int64
}

// Create inserts a new move in draft status.
func (s *Service) Create(ctx context.Context, params CreateParams) (Move, error) {
	if params.ClientID == "" {
		return Move{}, fmt.Errorf("%w: missing client id", ErrInvalidInput)
	}
	if params.Category == "" {
		params.Category = CategoryScheduled
	}
	if params.Category != CategoryScheduled && params.Category != CategoryInstant {
		return Move{}, fmt.Errorf("%w: category %q", ErrInvalidInput, params.Category)
	}
	if params.PriceCents < 0 {
		return Move{}, fmt.Errorf("%w: negative price", ErrInvalidInput)
	}
	if err := validateCoordPair(params.PickupLat, params.PickupLng, "pickup"); err != nil {
		return Move{}, err
	}
	if err := validateCoordPair(params.DropoffLat, params.DropoffLng, "dropoff"); err != nil {
		return Move{}, err
	}

	id := s.idGen()
	m := Move{
		ID:           id,
		Handle:       handleFromID(id),
		ClientID:     params.ClientID,
		Status:       StatusDraft,
		Category:     params.Category,
		PickupLat:    params.PickupLat,
		PickupLng:    params.PickupLng,
		DropoffLat:   params.DropoffLat,
		DropoffLng:   params.DropoffLng,
		ScheduledFor: params.ScheduledFor,
		PriceCents:   params.PriceCents,
	}
	return s.repo.Create(ctx, m)
}

// ErrInvalidInput signals malformed caller input; no state was changed.
var ErrInvalidInput = errors.New("move: invalid input")

func validateCoordPair(lat, lng *float64, name string) error {
	if (lat == nil) != (lng == nil) {
		return fmt.Errorf("%w: incomplete %s coordinates", ErrInvalidInput, name)
	}
	if lat == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return fmt.Errorf("%w: %s coordinates out of range", ErrInvalidInput, name)
	}
	return nil
}

// handleFromID derives the human-facing handle from the move's UUID.
func handleFromID(id string) string {
	return "MV-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}

func (s *Service) Get(ctx context.Context, id string) (Move, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]Move, error) {
	return s.repo.ListByClient(ctx, clientID, limit, offset)
}

func (s *Service) History(ctx context.Context, moveID string) ([]HistoryEntry, error) {
	return s.repo.History(ctx, moveID)
}

// TransitionParams describes one requested status change.
type TransitionParams struct {
	MoveID  string
	To      Status
	ActorID string
	Note    *string
}

// Transition validates the requested change against the persisted status and
// applies it with a conditional write. A concurrent status change between the
// read and the write surfaces as InvalidTransitionError against the fresh
// status, so a retried request is judged on what is actually stored and never
// double-applies.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Move, error) {
	if params.MoveID == "" {
		return Move{}, fmt.Errorf("%w: missing move id", ErrInvalidInput)
	}
	if params.ActorID == "" {
		return Move{}, fmt.Errorf("%w: missing actor id", ErrInvalidInput)
	}
	if !params.To.IsValid() {
		return Move{}, fmt.Errorf("%w: %q", ErrUnknownStatus, params.To)
	}

	current, err := s.repo.GetByID(ctx, params.MoveID)
	if err != nil {
		return Move{}, err
	}
	if !CanTransition(current.Status, params.To) {
		return Move{}, &InvalidTransitionError{From: current.Status, To: params.To, Allowed: AllowedFrom(current.Status)}
	}

	updated, err := s.applyTransition(ctx, current.Status, params, nil)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return Move{}, s.freshTransitionError(ctx, params.MoveID, params.To)
		}
		return Move{}, err
	}

	s.emitIntent(ctx, updated, current.Status)
	return updated, nil
}

// applyTransition writes one status flip plus its history record in a single
// transaction.
func (s *Service) applyTransition(ctx context.Context, from Status, params TransitionParams, moverProfileID *string) (Move, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Move{}, fmt.Errorf("move: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{
		MoveID:         params.MoveID,
		From:           from,
		To:             params.To,
		MoverProfileID: moverProfileID,
		Now:            now,
	})
	if err != nil {
		return Move{}, err
	}

	if err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		MoveID:     params.MoveID,
		FromStatus: from,
		ToStatus:   params.To,
		ChangedBy:  params.ActorID,
		Note:       params.Note,
		ChangedAt:  now,
	}); err != nil {
		return Move{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Move{}, fmt.Errorf("move: commit transition: %w", err)
	}
	return updated, nil
}

// freshTransitionError re-reads the move and reports the rejection against
// the status that actually won.
func (s *Service) freshTransitionError(ctx context.Context, moveID string, to Status) error {
	fresh, err := s.repo.GetByID(ctx, moveID)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{From: fresh.Status, To: to, Allowed: AllowedFrom(fresh.Status)}
}

// emitIntent records the client-facing notification intent for transitions
// that warrant one. Failures are logged only: the transition has already
// committed and must not be affected.
func (s *Service) emitIntent(ctx context.Context, m Move, from Status) {
	if s.notifier == nil {
		return
	}
	kind := NotifyKind(m.Status)
	if kind == "" {
		return
	}
	payload := map[string]any{
		"move_id":     m.ID,
		"handle":      m.Handle,
		"from_status": string(from),
		"to_status":   string(m.Status),
	}
	title := notifyTitles[m.Status]
	body := fmt.Sprintf("Move %s is now %s.", m.Handle, m.Status)
	if err := s.notifier.Enqueue(ctx, m.ClientID, kind, title, body, payload); err != nil {
		log.Printf("move: enqueue notification for %s (%s): %v", m.ID, kind, err)
	}
}

// AssignAndAccept binds moverProfileID to the move and advances it to
// mover_accepted. The accept path treats assignment and acceptance as one
// step: a move sitting in paid takes both hops, each validated against the
// lifecycle table and recorded in history.
func (s *Service) AssignAndAccept(ctx context.Context, moveID, moverProfileID, actorID string) (Move, error) {
	if moverProfileID == "" {
		return Move{}, fmt.Errorf("%w: missing mover profile id", ErrInvalidInput)
	}

	current, err := s.repo.GetByID(ctx, moveID)
	if err != nil {
		return Move{}, err
	}

	from := current.Status
	switch from {
	case StatusPaid:
		assigned, err := s.applyTransition(ctx, StatusPaid, TransitionParams{
			MoveID:  moveID,
			To:      StatusMoverAssigned,
			ActorID: actorID,
		}, &moverProfileID)
		if err != nil {
			if errors.Is(err, ErrStatusChanged) {
				return Move{}, fmt.Errorf("%w: move %s", ErrNotAssignable, moveID)
			}
			return Move{}, err
		}
		from = assigned.Status
	case StatusMoverAssigned:
		// Retried accept after a partial earlier attempt; only the second hop
		// is still owed, and only to the mover already bound.
		if current.MoverProfileID != nil && *current.MoverProfileID != moverProfileID {
			return Move{}, fmt.Errorf("%w: move %s", ErrNotAssignable, moveID)
		}
	default:
		return Move{}, fmt.Errorf("%w: move %s is %s", ErrNotAssignable, moveID, from)
	}

	updated, err := s.applyTransition(ctx, from, TransitionParams{
		MoveID:  moveID,
		To:      StatusMoverAccepted,
		ActorID: actorID,
	}, &moverProfileID)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return Move{}, fmt.Errorf("%w: move %s", ErrNotAssignable, moveID)
		}
		return Move{}, err
	}

	s.emitIntent(ctx, updated, from)
	return updated, nil
}
