package handlers

import (
	"encoding/json"
	"net/http"

	"akiba/internal/mpesa"
)

// PaymentCallback ingests provider result callbacks. The response is a fixed
// acknowledgement no matter what happened: any other status makes the
// provider redeliver, and redelivery is already handled by the terminal-state
// guard inside reconciliation.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb mpesa.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.log.Warn().Err(err).Msg("payment callback with undecodable body")
		respondJSON(w, http.StatusOK, mpesa.AcceptedAck())
		return
	}
	if err := h.payments.OnPaymentCallback(r.Context(), cb); err != nil {
		h.log.Error().Err(err).Str("correlation_id", cb.CorrelationID).Msg("payment callback processing failed")
	}
	respondJSON(w, http.StatusOK, mpesa.AcceptedAck())
}
