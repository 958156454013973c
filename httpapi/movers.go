package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"moveflow/mover"
)

type profileResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	VerificationStatus string     `json:"verification_status"`
	IsOnline           bool       `json:"is_online"`
	LastLat            *float64   `json:"last_lat,omitempty"`
	LastLng            *float64   `json:"last_lng,omitempty"`
	Rating             float64    `json:"rating"`
	LocationUpdatedAt  *time.Time `json:"location_updated_at,omitempty"`
}

func toProfileResponse(p mover.Profile) profileResponse {
	return profileResponse{
		ID:                 p.ID,
		UserID:             p.UserID,
		VerificationStatus: string(p.VerificationStatus),
		IsOnline:           p.IsOnline,
		LastLat:            p.LastLat,
		LastLng:            p.LastLng,
		Rating:             p.Rating,
		LocationUpdatedAt:  p.LocationUpdatedAt,
	}
}

func (s *Server) handleRegisterMover(w http.ResponseWriter, r *http.Request) {
	profile, err := s.movers.Register(r.Context(), callerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	profile, err := s.moverProfile(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := s.movers.ReportLocation(r.Context(), profile.ID, req.Lat, req.Lng)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(updated))
}

type onlineRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	profile, err := s.moverProfile(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := s.movers.SetOnline(r.Context(), profile.ID, req.Online); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": req.Online})
}

type verifyRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleVerifyMover(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	if err := s.movers.Verify(r.Context(), r.PathValue("id"), mover.VerificationStatus(req.Status)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": req.Status})
}
