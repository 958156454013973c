package httpapi

import (
	"context"
	"net/http"
	"time"

	"moveflow/auth"
	"moveflow/dispatch"
	"moveflow/move"
	"moveflow/mover"
)

// AuthService is the slice of auth.Service the API needs.
type AuthService interface {
	TokenVerifier
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

// MoveService is the slice of move.Service the API needs.
type MoveService interface {
	Create(ctx context.Context, params move.CreateParams) (move.Move, error)
	Get(ctx context.Context, id string) (move.Move, error)
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]move.Move, error)
	History(ctx context.Context, moveID string) ([]move.HistoryEntry, error)
	Transition(ctx context.Context, params move.TransitionParams) (move.Move, error)
}

// MoverService is the slice of mover.Service the API needs.
type MoverService interface {
	Register(ctx context.Context, userID string) (mover.Profile, error)
	GetByUser(ctx context.Context, userID string) (mover.Profile, error)
	ReportLocation(ctx context.Context, profileID string, lat, lng float64) (mover.Profile, error)
	SetOnline(ctx context.Context, profileID string, online bool) error
	Verify(ctx context.Context, profileID string, status mover.VerificationStatus) error
}

// Broadcaster runs offer rounds. dispatch.Engine satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, moveID string) (dispatch.OfferSet, error)
}

// Arbiter resolves offer responses. dispatch.Arbitrator satisfies it.
type Arbiter interface {
	Accept(ctx context.Context, requestID, moverProfileID string) (dispatch.AcceptResult, error)
	Decline(ctx context.Context, requestID, moverProfileID string) error
}

// OfferReader lists a mover's live offers. dispatch.PGRequestRepository
// satisfies it.
type OfferReader interface {
	ListOpenForMover(ctx context.Context, moverProfileID string, now time.Time, limit int) ([]dispatch.Request, error)
}

// Server wires the HTTP surface over the core services.
type Server struct {
	auth    AuthService
	moves   MoveService
	movers  MoverService
	engine  Broadcaster
	arbiter Arbiter
	offers  OfferReader
	now     func() time.Time
}

func NewServer(authSvc AuthService, moves MoveService, movers MoverService, engine Broadcaster, arbiter Arbiter, offers OfferReader) *Server {
	return &Server{
		auth:    authSvc,
		moves:   moves,
		movers:  movers,
		engine:  engine,
		arbiter: arbiter,
		offers:  offers,
		now:     time.Now,
	}
}

func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.HandleFunc("POST /moves", requireAuth(s.auth, requireRole(s.handleCreateMove, auth.RoleClient)))
	mux.HandleFunc("GET /moves", requireAuth(s.auth, requireRole(s.handleListMoves, auth.RoleClient)))
	mux.HandleFunc("GET /moves/{id}", requireAuth(s.auth, s.handleGetMove))
	mux.HandleFunc("GET /moves/{id}/history", requireAuth(s.auth, s.handleMoveHistory))
	mux.HandleFunc("POST /moves/{id}/broadcast", requireAuth(s.auth, s.handleBroadcast))
	mux.HandleFunc("POST /moves/{id}/transition", requireAuth(s.auth, s.handleTransition))

	mux.HandleFunc("GET /offers", requireAuth(s.auth, requireRole(s.handleListOffers, auth.RoleMover)))
	mux.HandleFunc("POST /offers/{id}/accept", requireAuth(s.auth, requireRole(s.handleAccept, auth.RoleMover)))
	mux.HandleFunc("POST /offers/{id}/decline", requireAuth(s.auth, requireRole(s.handleDecline, auth.RoleMover)))

	mux.HandleFunc("POST /movers", requireAuth(s.auth, requireRole(s.handleRegisterMover, auth.RoleMover)))
	mux.HandleFunc("PATCH /movers/me/location", requireAuth(s.auth, requireRole(s.handleReportLocation, auth.RoleMover)))
	mux.HandleFunc("PATCH /movers/me/online", requireAuth(s.auth, requireRole(s.handleSetOnline, auth.RoleMover)))
	mux.HandleFunc("POST /movers/{id}/verify", requireAuth(s.auth, requireRole(s.handleVerifyMover, auth.RoleAdmin)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// moverProfile resolves the calling mover's profile from the authenticated
// user.
func (s *Server) moverProfile(r *http.Request) (mover.Profile, error) {
	return s.movers.GetByUser(r.Context(), callerID(r))
}
