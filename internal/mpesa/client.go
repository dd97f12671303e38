// Package mpesa adapts the mobile-money provider: deposit push requests,
// payouts and the asynchronous result callback. The provider does not sign
// callbacks, so nothing in here trusts a callback beyond its correlation id.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"akiba/internal/retry"

	"github.com/rs/zerolog"
)

var (
	ErrRejected    = errors.New("payment request rejected")
	ErrUnavailable = errors.New("payment provider unavailable")
)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

type Client struct {
	httpClient *http.Client
	cfg        Config
	policy     retry.Policy
	log        zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		policy:     retry.DefaultExternal(),
		log:        log.With().Str("component", "mpesa").Logger(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
}

// InitiateDeposit pushes a payment request at the phone and returns the
// provider's correlation id. The deposit settles later via the callback.
func (c *Client) InitiateDeposit(ctx context.Context, phone string, amountMinor int64, reference string) (string, error) {
	timestamp := time.Now().Format("20060102150405")
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeUnits(amountMinor),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Savings deposit",
	}
	var out stkPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return "", err
	}
	if out.ResponseCode != "0" {
		return "", fmt.Errorf("%w: %s", ErrRejected, out.ResponseDesc)
	}
	return out.CheckoutRequestID, nil
}

type b2cRequest struct {
	InitiatorName   string `json:"InitiatorName"`
	CommandID       string `json:"CommandID"`
	Amount          string `json:"Amount"`
	PartyA          string `json:"PartyA"`
	PartyB          string `json:"PartyB"`
	Remarks         string `json:"Remarks"`
	QueueTimeOutURL string `json:"QueueTimeOutURL"`
	ResultURL       string `json:"ResultURL"`
}

type b2cResponse struct {
	ConversationID string `json:"ConversationID"`
	ResponseCode   string `json:"ResponseCode"`
	ResponseDesc   string `json:"ResponseDescription"`
}

// InitiateWithdrawal starts a payout to the phone and returns the provider's
// correlation id.
func (c *Client) InitiateWithdrawal(ctx context.Context, phone string, amountMinor int64, remark string) (string, error) {
	payload := b2cRequest{
		InitiatorName:   c.cfg.Shortcode,
		CommandID:       "BusinessPayment",
		Amount:          wholeUnits(amountMinor),
		PartyA:          c.cfg.Shortcode,
		PartyB:          phone,
		Remarks:         remark,
		QueueTimeOutURL: c.cfg.CallbackURL,
		ResultURL:       c.cfg.CallbackURL,
	}
	var out b2cResponse
	if err := c.post(ctx, "/mpesa/b2c/v1/paymentrequest", payload, &out); err != nil {
		return "", err
	}
	if out.ResponseCode != "0" {
		return "", fmt.Errorf("%w: %s", ErrRejected, out.ResponseDesc)
	}
	return out.ConversationID, nil
}

// post sends an authenticated JSON request under the bounded retry policy.
// Provider 5xx responses and transport failures retry; 4xx responses are
// rejected immediately.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.policy.Do(ctx, func(ctx context.Context) error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return retry.Transient(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.Transient(fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: provider returned %d", ErrRejected, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

func wholeUnits(amountMinor int64) string {
	return fmt.Sprintf("%d", amountMinor/100)
}
