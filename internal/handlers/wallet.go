package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"akiba/internal/middleware"
	"akiba/internal/money"
	"akiba/internal/store"
	"akiba/internal/validator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// WalletChallenge issues a fresh nonce the client must sign with the wallet
// it wants to bind. Re-requesting replaces any earlier challenge.
func (h *Handler) WalletChallenge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	challenge := fmt.Sprintf("akiba-wallet-bind:%s", uuid.NewString())
	if err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.users.SetWalletChallenge(r.Context(), tx, userID, challenge)
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to issue challenge")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"challenge": challenge,
	})
}

type walletBindRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// WalletBind verifies the signed challenge and records the address. Proof of
// key control is the only authentication accepted here.
func (h *Handler) WalletBind(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req walletBindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateWalletAddress(req.Address); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	challenge, err := h.users.GetWalletChallenge(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusConflict, "no active challenge, request one first")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load challenge")
		return
	}
	if err := h.verifySig(req.Address, challenge, req.Signature); err != nil {
		respondError(w, http.StatusUnauthorized, "signature does not match address")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.users.BindWallet(r.Context(), tx, userID, req.Address); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"address": req.Address,
		})
		return h.audit.Log(r.Context(), tx, userID, "wallet.bind", "user", userID, string(data))
	})
	if err != nil {
		if errors.Is(err, store.ErrWalletBound) {
			respondError(w, http.StatusConflict, "address already bound to another user")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to bind wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"address": req.Address,
	})
}

// WalletBalance reads the bound wallet's balance straight off the contract.
// Display only: the custodial projection never folds this value in.
func (h *Handler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	if user.WalletAddress == nil {
		respondError(w, http.StatusConflict, "no wallet bound")
		return
	}
	raw, err := h.ledger.BalanceOf(r.Context(), common.HexToAddress(*user.WalletAddress))
	if err != nil {
		respondError(w, http.StatusBadGateway, "chain read failed")
		return
	}
	minor, err := money.TokenToMinor(raw, h.cfg.TokenDecimals)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unrepresentable chain balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"address":       *user.WalletAddress,
		"chain_balance": money.FormatMinor(minor),
		"minor":         minor,
	})
}
