package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"moveflow/auth"
	"moveflow/move"
)

type createMoveRequest struct {
	Category     string     `json:"category"`
	PickupLat    *float64   `json:"pickup_lat"`
	PickupLng    *float64   `json:"pickup_lng"`
	DropoffLat   *float64   `json:"dropoff_lat"`
	DropoffLng   *float64   `json:"dropoff_lng"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	PriceCents   int64      `json:"price_cents"`
}

type moveResponse struct {
	ID             string     `json:"id"`
	Handle         string     `json:"handle"`
	ClientID       string     `json:"client_id"`
	MoverProfileID *string    `json:"mover_profile_id,omitempty"`
	Status         string     `json:"status"`
	Category       string     `json:"category"`
	PickupLat      *float64   `json:"pickup_lat,omitempty"`
	PickupLng      *float64   `json:"pickup_lng,omitempty"`
	DropoffLat     *float64   `json:"dropoff_lat,omitempty"`
	DropoffLng     *float64   `json:"dropoff_lng,omitempty"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	PriceCents     int64      `json:"price_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toMoveResponse(m move.Move) moveResponse {
	return moveResponse{
		ID:             m.ID,
		Handle:         m.Handle,
		ClientID:       m.ClientID,
		MoverProfileID: m.MoverProfileID,
		Status:         string(m.Status),
		Category:       string(m.Category),
		PickupLat:      m.PickupLat,
		PickupLng:      m.PickupLng,
		DropoffLat:     m.DropoffLat,
		DropoffLng:     m.DropoffLng,
		ScheduledFor:   m.ScheduledFor,
		PriceCents:     m.PriceCents,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		PaidAt:         m.PaidAt,
		CompletedAt:    m.CompletedAt,
	}
}

type historyResponse struct {
	ID         int64     `json:"id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Note       *string   `json:"note,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

func (s *Server) handleCreateMove(w http.ResponseWriter, r *http.Request) {
	var req createMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	m, err := s.moves.Create(r.Context(), move.CreateParams{
		ClientID:     callerID(r),
		Category:     move.Category(req.Category),
		PickupLat:    req.PickupLat,
		PickupLng:    req.PickupLng,
		DropoffLat:   req.DropoffLat,
		DropoffLng:   req.DropoffLng,
		ScheduledFor: req.ScheduledFor,
		PriceCents:   req.PriceCents,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMoveResponse(m))
}

func (s *Server) handleListMoves(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	moves, err := s.moves.ListByClient(r.Context(), callerID(r), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]moveResponse, len(moves))
	for i, m := range moves {
		out[i] = toMoveResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"moves": out})
}

func (s *Server) handleGetMove(w http.ResponseWriter, r *http.Request) {
	m, err := s.authorizedMove(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMoveResponse(m))
}

func (s *Server) handleMoveHistory(w http.ResponseWriter, r *http.Request) {
	m, err := s.authorizedMove(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	entries, err := s.moves.History(r.Context(), m.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]historyResponse, len(entries))
	for i, e := range entries {
		out[i] = historyResponse{
			ID:         e.ID,
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ChangedBy:  e.ChangedBy,
			Note:       e.Note,
			ChangedAt:  e.ChangedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	m, err := s.authorizedMove(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if callerRole(r) == auth.RoleMover {
		writeError(w, http.StatusForbidden, codeForbidden, "movers cannot broadcast")
		return
	}

	set, err := s.engine.Broadcast(r.Context(), m.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferSetResponse(set))
}

type transitionRequest struct {
	To   string  `json:"to"`
	Note *string `json:"note,omitempty"`
}

// clientTargets and moverTargets bound which target statuses each role may
// request over the API. Assignment statuses are reachable only through the
// offer accept path, and admins may request anything the table allows.
var clientTargets = map[move.Status]bool{
	move.StatusPendingPayment:    true,
	move.StatusPaid:              true,
	move.StatusDisputed:          true,
	move.StatusCompleted:         true,
	move.StatusCancelledByClient: true,
}

var moverTargets = map[move.Status]bool{
	move.StatusMoverEnRoute:       true,
	move.StatusMoverArrived:       true,
	move.StatusLoading:            true,
	move.StatusInTransit:          true,
	move.StatusArrivedDestination: true,
	move.StatusUnloading:          true,
	move.StatusCompleted:          true,
	move.StatusCancelledByMover:   true,
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	m, err := s.authorizedMove(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	to := move.Status(req.To)
	switch callerRole(r) {
	case auth.RoleClient:
		if !clientTargets[to] {
			writeError(w, http.StatusForbidden, codeForbidden, "status not reachable by clients")
			return
		}
	case auth.RoleMover:
		if !moverTargets[to] {
			writeError(w, http.StatusForbidden, codeForbidden, "status not reachable by movers")
			return
		}
	}

	updated, err := s.moves.Transition(r.Context(), move.TransitionParams{
		MoveID:  m.ID,
		To:      to,
		ActorID: callerID(r),
		Note:    req.Note,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMoveResponse(updated))
}

// authorizedMove fetches the path move and verifies the caller may see it:
// the owning client, the assigned mover, or an admin.
func (s *Server) authorizedMove(r *http.Request) (move.Move, error) {
	m, err := s.moves.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return move.Move{}, err
	}

	switch callerRole(r) {
	case auth.RoleAdmin:
		return m, nil
	case auth.RoleClient:
		if m.ClientID == callerID(r) {
			return m, nil
		}
	case auth.RoleMover:
		profile, err := s.moverProfile(r)
		if err != nil {
			return move.Move{}, err
		}
		if m.MoverProfileID != nil && *m.MoverProfileID == profile.ID {
			return m, nil
		}
	}
	return move.Move{}, errNotParticipant
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
