package httpapi

import (
	"net/http"
	"time"

	"moveflow/dispatch"
)

type offerResponse struct {
	ID          string     `json:"id"`
	MoveID      string     `json:"move_id"`
	Status      string     `json:"status"`
	DistanceKm  float64    `json:"distance_km"`
	SentAt      time.Time  `json:"sent_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func toOfferResponse(req dispatch.Request) offerResponse {
	return offerResponse{
		ID:          req.ID,
		MoveID:      req.MoveID,
		Status:      string(req.Status),
		DistanceKm:  req.DistanceKm,
		SentAt:      req.SentAt,
		ExpiresAt:   req.ExpiresAt,
		RespondedAt: req.RespondedAt,
	}
}

func toOfferSetResponse(set dispatch.OfferSet) map[string]any {
	offers := make([]offerResponse, len(set.Requests))
	for i, req := range set.Requests {
		offers[i] = toOfferResponse(req)
	}
	return map[string]any{
		"move_id": set.MoveID,
		"count":   set.Size(),
		"offers":  offers,
	}
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	profile, err := s.moverProfile(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	limit := queryInt(r, "limit", 20)
	requests, err := s.offers.ListOpenForMover(r.Context(), profile.ID, s.now(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]offerResponse, len(requests))
	for i, req := range requests {
		out[i] = toOfferResponse(req)
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": out})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	profile, err := s.moverProfile(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := s.arbiter.Accept(r.Context(), r.PathValue("id"), profile.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"move_id":    result.MoveID,
		"request_id": result.RequestID,
	})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	profile, err := s.moverProfile(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := s.arbiter.Decline(r.Context(), r.PathValue("id"), profile.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "declined"})
}
