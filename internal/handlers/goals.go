package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"akiba/internal/middleware"
	"akiba/internal/services"

	"github.com/go-chi/chi/v5"
)

type createGoalRequest struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	Deadline string `json:"deadline"`
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	target, err := parseAmountMinor(req.Target)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		respondError(w, http.StatusBadRequest, "deadline must be RFC3339")
		return
	}
	goal, err := h.savings.CreateGoal(r.Context(), services.GoalRequest{
		UserID:      userID,
		Name:        req.Name,
		TargetMinor: target,
		Deadline:    deadline,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, goal)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	goals, err := h.savings.ListGoals(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"goals": goals,
	})
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	goal, err := h.savings.GetGoal(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, goal)
}

type contributeRequest struct {
	Method   string `json:"method"`
	Amount   string `json:"amount"`
	Phone    string `json:"phone"`
	SignedTx string `json:"signed_tx"`
}

func (h *Handler) ContributeToGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req contributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	op, err := h.savings.ContributeToGoal(r.Context(), services.ContributionRequest{
		UserID:      userID,
		GoalID:      chi.URLParam(r, "id"),
		AmountMinor: amount,
		Method:      services.Method(req.Method),
		Phone:       req.Phone,
		SignedTx:    req.SignedTx,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, op)
}

func (h *Handler) CancelGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.savings.CancelGoal(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
