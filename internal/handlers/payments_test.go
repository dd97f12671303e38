package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"akiba/internal/mpesa"
)

func TestPaymentCallbackAccepted(t *testing.T) {
	var got mpesa.Callback
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAuditStore{}, stubSavingsService{}, stubPaymentProcessor{
		onCallbackFn: func(_ context.Context, cb mpesa.Callback) error {
			got = cb
			return nil
		},
	})

	body := []byte(`{"correlationId":"ws_CO_123","resultCode":0,"resultDescription":"Success"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.CorrelationID != "ws_CO_123" || !got.Success() {
		t.Fatalf("unexpected callback passed through: %+v", got)
	}
	var ack mpesa.Ack
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack != mpesa.AcceptedAck() {
		t.Fatalf("expected fixed ack, got %+v", ack)
	}
}

func TestPaymentCallbackAcksOnProcessingError(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAuditStore{}, stubSavingsService{}, stubPaymentProcessor{
		onCallbackFn: func(context.Context, mpesa.Callback) error {
			return errors.New("storage unavailable")
		},
	})

	body := []byte(`{"correlationId":"ws_CO_123","resultCode":0}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("callback must be acknowledged even on failure, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Accepted") {
		t.Fatalf("expected fixed ack body, got %s", rr.Body.String())
	}
}

func TestPaymentCallbackAcksOnGarbageBody(t *testing.T) {
	processed := false
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAuditStore{}, stubSavingsService{}, stubPaymentProcessor{
		onCallbackFn: func(context.Context, mpesa.Callback) error {
			processed = true
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/callback", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if processed {
		t.Fatalf("undecodable body must not reach the reconciler")
	}
}

func TestPaymentCallbackIsUnauthenticated(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, stubUserStore{}, stubAuditStore{}, stubSavingsService{}, stubPaymentProcessor{})
	body := []byte(`{"correlationId":"ws_CO_123","resultCode":1032,"resultDescription":"Cancelled by user"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without a bearer token, got %d", rr.Code)
	}
}
