// Package notify delivers user notifications to an external push service.
// Delivery is best effort: a failed or dropped notification never blocks or
// fails the state change that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"akiba/internal/retry"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindDepositSettled    Kind = "deposit_settled"
	KindWithdrawalSettled Kind = "withdrawal_settled"
	KindOperationFailed   Kind = "operation_failed"
	KindOperationExpired  Kind = "operation_expired"
	KindGoalCompleted     Kind = "goal_completed"
)

type Message struct {
	UserID string            `json:"userId"`
	Kind   Kind              `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// Sender is what the reconciliation side depends on. Notifier implements it;
// tests substitute their own.
type Sender interface {
	Notify(userID string, kind Kind, params map[string]string)
}

type Notifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
	log        zerolog.Logger

	queue chan Message
	wg    sync.WaitGroup
	once  sync.Once
}

func New(url, apiKey string, log zerolog.Logger) *Notifier {
	return &Notifier{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     retry.DefaultExternal(),
		log:        log.With().Str("component", "notify").Logger(),
		queue:      make(chan Message, 256),
	}
}

// Start launches the delivery worker. Drained on Stop.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case msg, ok := <-n.queue:
				if !ok {
					return
				}
				n.deliver(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight deliveries.
func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.queue) })
	n.wg.Wait()
}

// Notify enqueues without blocking. When the queue is full the message is
// dropped and logged.
func (n *Notifier) Notify(userID string, kind Kind, params map[string]string) {
	msg := Message{UserID: userID, Kind: kind, Params: params}
	select {
	case n.queue <- msg:
	default:
		n.log.Warn().Str("user_id", userID).Str("kind", string(kind)).Msg("notification queue full, dropping")
	}
}

func (n *Notifier) deliver(ctx context.Context, msg Message) {
	if n.url == "" {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		n.log.Error().Err(err).Msg("encode notification")
		return
	}
	err = n.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if n.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+n.apiKey)
		}
		resp, err := n.httpClient.Do(req)
		if err != nil {
			return retry.Transient(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.Transient(fmt.Errorf("push service returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("push service returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		n.log.Warn().Err(err).Str("user_id", msg.UserID).Str("kind", string(msg.Kind)).Msg("notification delivery failed")
	}
}
