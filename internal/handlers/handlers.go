package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"akiba/internal/services"
	"akiba/internal/store"
	"akiba/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrUnknownMethod),
		errors.Is(err, services.ErrMissingPhone),
		errors.Is(err, services.ErrMissingSignedTx),
		errors.Is(err, services.ErrNoWalletBound),
		errors.Is(err, services.ErrInvalidGoal),
		errors.Is(err, validator.ErrInvalidPhone):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrGoalNotActive):
		respondError(w, http.StatusConflict, "goal is not active")
	case errors.Is(err, services.ErrExternalCall):
		respondError(w, http.StatusBadGateway, "external call failed")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
