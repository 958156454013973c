package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"moveflow/auth"
	"moveflow/dispatch"
	"moveflow/move"
	"moveflow/mover"
)

type stubAuth struct {
	userID string
	role   auth.Role
	user   auth.User
	token  string
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	if token != "good-token" {
		return "", "", auth.ErrInvalidCredentials
	}
	return s.userID, s.role, nil
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if len(req.Password) < 8 {
		return nil, auth.ErrWeakPassword
	}
	u := s.user
	return &u, nil
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	if s.token == "" {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	return auth.LoginResult{Token: s.token, User: s.user}, nil
}

type stubMoves struct {
	move          move.Move
	createErr     error
	getErr        error
	transitionErr error
	history       []move.HistoryEntry
}

func (s *stubMoves) Create(_ context.Context, params move.CreateParams) (move.Move, error) {
	if s.createErr != nil {
		return move.Move{}, s.createErr
	}
	m := s.move
	m.ClientID = params.ClientID
	return m, nil
}

func (s *stubMoves) Get(_ context.Context, _ string) (move.Move, error) {
	if s.getErr != nil {
		return move.Move{}, s.getErr
	}
	return s.move, nil
}

func (s *stubMoves) ListByClient(_ context.Context, _ string, _, _ int) ([]move.Move, error) {
	return []move.Move{s.move}, nil
}

func (s *stubMoves) History(_ context.Context, _ string) ([]move.HistoryEntry, error) {
	return s.history, nil
}

func (s *stubMoves) Transition(_ context.Context, params move.TransitionParams) (move.Move, error) {
	if s.transitionErr != nil {
		return move.Move{}, s.transitionErr
	}
	m := s.move
	m.Status = params.To
	return m, nil
}

type stubMovers struct {
	profile mover.Profile
	err     error
}

func (s *stubMovers) Register(_ context.Context, _ string) (mover.Profile, error) {
	return s.profile, s.err
}

func (s *stubMovers) GetByUser(_ context.Context, _ string) (mover.Profile, error) {
	return s.profile, s.err
}

func (s *stubMovers) ReportLocation(_ context.Context, _ string, lat, lng float64) (mover.Profile, error) {
	if s.err != nil {
		return mover.Profile{}, s.err
	}
	p := s.profile
	p.LastLat, p.LastLng = &lat, &lng
	return p, nil
}

func (s *stubMovers) SetOnline(_ context.Context, _ string, _ bool) error { return s.err }

func (s *stubMovers) Verify(_ context.Context, _ string, _ mover.VerificationStatus) error {
	return s.err
}

type stubEngine struct {
	set dispatch.OfferSet
	err error
}

func (s *stubEngine) Broadcast(_ context.Context, moveID string) (dispatch.OfferSet, error) {
	if s.err != nil {
		return dispatch.OfferSet{}, s.err
	}
	set := s.set
	set.MoveID = moveID
	return set, nil
}

type stubArbiter struct {
	result     dispatch.AcceptResult
	acceptErr  error
	declineErr error
}

func (s *stubArbiter) Accept(_ context.Context, _, _ string) (dispatch.AcceptResult, error) {
	return s.result, s.acceptErr
}

func (s *stubArbiter) Decline(_ context.Context, _, _ string) error { return s.declineErr }

type stubOffers struct {
	requests []dispatch.Request
	err      error
}

func (s *stubOffers) ListOpenForMover(_ context.Context, _ string, _ time.Time, _ int) ([]dispatch.Request, error) {
	return s.requests, s.err
}

func clientServer(moves *stubMoves) *Server {
	return NewServer(
		&stubAuth{userID: "client-1", role: auth.RoleClient},
		moves,
		&stubMovers{},
		&stubEngine{},
		&stubArbiter{},
		&stubOffers{},
	)
}

func moverServer(moves *stubMoves, movers *stubMovers, arbiter *stubArbiter, offers *stubOffers) *Server {
	return NewServer(
		&stubAuth{userID: "user-9", role: auth.RoleMover},
		moves,
		movers,
		&stubEngine{},
		arbiter,
		offers,
	)
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer good-token")
	return req
}

func TestHandleCreateMove(t *testing.T) {
	moves := &stubMoves{move: move.Move{ID: "mv-1", Handle: "MV-0A1B2C3D", Status: move.StatusDraft}}
	server := clientServer(moves)

	req := authedRequest(http.MethodPost, "/moves", `{"category":"scheduled","pickup_lat":52.52,"pickup_lng":13.405,"price_cents":50000}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp moveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "mv-1" || resp.ClientID != "client-1" || resp.Status != "draft" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleCreateMove_RequiresAuth(t *testing.T) {
	server := clientServer(&stubMoves{})

	req := httptest.NewRequest(http.MethodPost, "/moves", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCreateMove_ForbidsMoverRole(t *testing.T) {
	server := moverServer(&stubMoves{}, &stubMovers{}, &stubArbiter{}, &stubOffers{})

	req := authedRequest(http.MethodPost, "/moves", `{}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateMove_ValidationError(t *testing.T) {
	server := clientServer(&stubMoves{createErr: move.ErrInvalidInput})

	req := authedRequest(http.MethodPost, "/moves", `{"price_cents":-5}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != codeValidation {
		t.Errorf("code = %q, want %q", resp.Code, codeValidation)
	}
}

func TestHandleGetMove_NotFound(t *testing.T) {
	server := clientServer(&stubMoves{getErr: move.ErrNotFound})

	req := authedRequest(http.MethodGet, "/moves/missing", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetMove_OtherClientsMoveHidden(t *testing.T) {
	server := clientServer(&stubMoves{move: move.Move{ID: "mv-1", ClientID: "someone-else"}})

	req := authedRequest(http.MethodGet, "/moves/mv-1", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleTransition_InvalidTransition(t *testing.T) {
	moves := &stubMoves{
		move: move.Move{ID: "mv-1", ClientID: "client-1", Status: move.StatusCompleted},
		transitionErr: &move.InvalidTransitionError{
			From:    move.StatusCompleted,
			To:      move.StatusCancelledByClient,
			Allowed: []move.Status{move.StatusDisputed},
		},
	}
	server := clientServer(moves)

	req := authedRequest(http.MethodPost, "/moves/mv-1/transition", `{"to":"cancelled_by_client"}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != codeInvalidTransition {
		t.Errorf("code = %q, want %q", resp.Code, codeInvalidTransition)
	}
	if resp.From != "completed" || resp.To != "cancelled_by_client" {
		t.Errorf("unexpected from/to: %+v", resp)
	}
	if len(resp.Allowed) != 1 || resp.Allowed[0] != "disputed" {
		t.Errorf("allowed = %v, want [disputed]", resp.Allowed)
	}
}

func TestHandleTransition_RoleBoundsTargets(t *testing.T) {
	moves := &stubMoves{move: move.Move{ID: "mv-1", ClientID: "client-1", Status: move.StatusMoverArrived}}
	server := clientServer(moves)

	// Clients cannot drive the operational statuses.
	req := authedRequest(http.MethodPost, "/moves/mv-1/transition", `{"to":"loading"}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleAcceptOffer(t *testing.T) {
	arbiter := &stubArbiter{result: dispatch.AcceptResult{MoveID: "mv-1", RequestID: "req-1"}}
	server := moverServer(&stubMoves{}, &stubMovers{profile: mover.Profile{ID: "p1", UserID: "user-9"}}, arbiter, &stubOffers{})

	req := authedRequest(http.MethodPost, "/offers/req-1/accept", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["move_id"] != "mv-1" || resp["request_id"] != "req-1" {
		t.Errorf("unexpected payload: %v", resp)
	}
}

func TestHandleAcceptOffer_LostRace(t *testing.T) {
	arbiter := &stubArbiter{acceptErr: dispatch.ErrRequestNotPending}
	server := moverServer(&stubMoves{}, &stubMovers{profile: mover.Profile{ID: "p1"}}, arbiter, &stubOffers{})

	req := authedRequest(http.MethodPost, "/offers/req-1/accept", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleAcceptOffer_NotOwner(t *testing.T) {
	arbiter := &stubArbiter{acceptErr: dispatch.ErrNotRequestOwner}
	server := moverServer(&stubMoves{}, &stubMovers{profile: mover.Profile{ID: "p1"}}, arbiter, &stubOffers{})

	req := authedRequest(http.MethodPost, "/offers/req-1/accept", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleListOffers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offers := &stubOffers{requests: []dispatch.Request{{
		ID:             "req-1",
		MoveID:         "mv-1",
		MoverProfileID: "p1",
		Status:         dispatch.RequestPending,
		DistanceKm:     2.1,
		SentAt:         now,
		ExpiresAt:      now.Add(time.Minute),
	}}}
	server := moverServer(&stubMoves{}, &stubMovers{profile: mover.Profile{ID: "p1"}}, &stubArbiter{}, offers)

	req := authedRequest(http.MethodGet, "/offers", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Offers []offerResponse `json:"offers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Offers) != 1 || payload.Offers[0].ID != "req-1" || payload.Offers[0].DistanceKm != 2.1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestHandleRegister(t *testing.T) {
	authSvc := &stubAuth{user: auth.User{ID: "u1", Email: "a@example.com", FullName: "A", Role: auth.RoleClient}}
	server := NewServer(authSvc, &stubMoves{}, &stubMovers{}, &stubEngine{}, &stubArbiter{}, &stubOffers{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"a@example.com","password":"longenough","full_name":"A"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRegister_WeakPassword(t *testing.T) {
	server := NewServer(&stubAuth{}, &stubMoves{}, &stubMovers{}, &stubEngine{}, &stubArbiter{}, &stubOffers{})

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"a@example.com","password":"short","full_name":"A"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDependencyFailure(t *testing.T) {
	server := clientServer(&stubMoves{getErr: errors.New("connection refused")})

	req := authedRequest(http.MethodGet, "/moves/mv-1", "")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != codeDependency {
		t.Errorf("code = %q, want %q", resp.Code, codeDependency)
	}
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(&stubAuth{}, &stubMoves{}, &stubMovers{}, &stubEngine{}, &stubArbiter{}, &stubOffers{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
