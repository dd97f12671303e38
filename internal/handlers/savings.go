package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"akiba/internal/middleware"
	"akiba/internal/money"
	"akiba/internal/services"
	"akiba/internal/websocket"
)

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.savings.GetBalance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": balance.UserID,
		"balance": money.FormatMinor(balance.BalanceMinor),
		"minor":   balance.BalanceMinor,
	})
}

// SelfCheck recomputes the balance from the transaction history and reports
// any drift against the stored projection.
func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	drift, err := h.savings.CheckProjection(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	status := "consistent"
	if drift != 0 {
		status = "drift"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"drift_minor": drift,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)
	txType := r.URL.Query().Get("type")
	transactions, err := h.savings.ListTransactions(r.Context(), userID, txType, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
	})
}

func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)
	operations, err := h.savings.ListPendingOperations(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"operations": operations,
	})
}

type depositRequest struct {
	Method   string  `json:"method"`
	Amount   string  `json:"amount"`
	Phone    string  `json:"phone"`
	SignedTx string  `json:"signed_tx"`
	GoalID   *string `json:"goal_id"`
}

func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	op, err := h.savings.RequestDeposit(r.Context(), services.DepositRequest{
		UserID:      userID,
		Method:      services.Method(req.Method),
		AmountMinor: amount,
		Phone:       req.Phone,
		SignedTx:    req.SignedTx,
		GoalID:      req.GoalID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, op)
}

type withdrawalRequest struct {
	Method   string `json:"method"`
	Amount   string `json:"amount"`
	Phone    string `json:"phone"`
	SignedTx string `json:"signed_tx"`
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	op, err := h.savings.RequestWithdrawal(r.Context(), services.WithdrawalRequest{
		UserID:      userID,
		Method:      services.Method(req.Method),
		AmountMinor: amount,
		Phone:       req.Phone,
		SignedTx:    req.SignedTx,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, op)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	websocket.ServeWS(w, r, h.hub, userID)
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
