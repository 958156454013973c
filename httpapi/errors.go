package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"moveflow/auth"
	"moveflow/dispatch"
	"moveflow/move"
	"moveflow/mover"
)

const (
	codeValidation        = "validation_error"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeConflict          = "conflict"
	codeInvalidTransition = "invalid_transition"
	codeDependency        = "dependency_error"
)

// errNotParticipant rejects callers acting on a move they are not party to.
var errNotParticipant = errors.New("httpapi: caller is not a participant of this move")

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are out; nothing sensible left to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps domain errors onto the HTTP taxonomy. The calling UI
// relies on the specific reason to tell a stale-offer race from misuse.
func writeServiceError(w http.ResponseWriter, err error) {
	var invalid *move.InvalidTransitionError
	if errors.As(err, &invalid) {
		allowed := make([]string, len(invalid.Allowed))
		for i, s := range invalid.Allowed {
			allowed[i] = string(s)
		}
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   invalid.Error(),
			Code:    codeInvalidTransition,
			From:    string(invalid.From),
			To:      string(invalid.To),
			Allowed: allowed,
		})
		return
	}

	switch {
	case errors.Is(err, move.ErrInvalidInput),
		errors.Is(err, move.ErrUnknownStatus),
		errors.Is(err, dispatch.ErrMissingPickup),
		errors.Is(err, mover.ErrInvalidCoordinates),
		errors.Is(err, mover.ErrInvalidVerification),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
	case errors.Is(err, dispatch.ErrNotRequestOwner),
		errors.Is(err, errNotParticipant):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, move.ErrNotFound),
		errors.Is(err, dispatch.ErrRequestNotFound),
		errors.Is(err, mover.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, dispatch.ErrRequestNotPending),
		errors.Is(err, dispatch.ErrRequestExpired),
		errors.Is(err, move.ErrNotAssignable),
		errors.Is(err, move.ErrStatusChanged),
		errors.Is(err, move.ErrDuplicateHandle),
		errors.Is(err, mover.ErrDuplicateProfile),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	default:
		// Anything unclassified reaching here is a store or downstream
		// failure; the primary operation did not happen.
		writeError(w, http.StatusBadGateway, codeDependency, "dependency failure")
	}
}
