package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"akiba/internal/retry"

	"github.com/rs/zerolog"
)

func TestNotifierDeliversMessage(t *testing.T) {
	received := make(chan Message, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer api-key" {
			t.Errorf("authorization = %q", got)
		}
		var msg Message
		json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
	}))
	defer server.Close()

	n := New(server.URL, "api-key", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Notify("user-1", KindDepositSettled, map[string]string{"amount": "150.00"})

	select {
	case msg := <-received:
		if msg.UserID != "user-1" || msg.Kind != KindDepositSettled {
			t.Fatalf("delivered %+v", msg)
		}
		if msg.Params["amount"] != "150.00" {
			t.Fatalf("params = %v", msg.Params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
	n.Stop()
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		close(done)
	}))
	defer server.Close()

	n := New(server.URL, "", zerolog.Nop())
	n.policy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Notify("user-1", KindOperationFailed, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not retried")
	}
	n.Stop()
	if attempts.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", attempts.Load())
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	n := New("http://localhost:0", "", zerolog.Nop())
	n.queue = make(chan Message, 1)

	// No worker running: second enqueue must not block.
	n.Notify("user-1", KindGoalCompleted, nil)
	finished := make(chan struct{})
	go func() {
		n.Notify("user-2", KindGoalCompleted, nil)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}

func TestNotifierNoOpWithoutURL(t *testing.T) {
	n := New("", "", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	n.Notify("user-1", KindWithdrawalSettled, nil)
	n.Stop()
}
