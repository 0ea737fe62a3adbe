package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/util"

	"go.uber.org/zap"
)

// ProviderName is stored on every payment created through this client
const ProviderName = "paystack"

// SignatureHeader carries the hex HMAC-SHA512 of a webhook body
const SignatureHeader = "x-paystack-signature"

// Webhook event names
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Client talks to the Paystack transaction API
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Paystack client
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// InitializeParams is the body of a transaction initialization. Amount is in
// minor currency units.
type InitializeParams struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InitializeResult is what the buyer needs to complete checkout
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type initializeResponse struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    InitializeResult `json:"data"`
}

// InitializeTransaction opens a checkout session with the provider
func (c *Client) InitializeTransaction(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	ctx, span := util.StartSpan(ctx, "PaystackClient.InitializeTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProviderLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.SpanError(span, err)
		return nil, apperror.External("payment provider", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.External("payment provider", "", err)
	}

	var out initializeResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || !out.Status {
		err := fmt.Errorf("initialize returned status %d", resp.StatusCode)
		if decodeErr != nil {
			err = fmt.Errorf("%w: %v", err, decodeErr)
		}
		util.SpanError(span, err)
		c.logger.Warn("Payment initialization rejected",
			zap.String("reference", params.Reference),
			zap.Int("status", resp.StatusCode),
			zap.String("message", out.Message))
		return nil, apperror.External("payment provider", string(raw), err)
	}

	if out.Data.Reference == "" {
		out.Data.Reference = params.Reference
	}
	return &out.Data, nil
}

// Sign returns the hex HMAC-SHA512 of body under secret
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA512 of body.
// Comparison is constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// WebhookEvent is the provider notification envelope
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData carries the transaction the event is about
type WebhookData struct {
	ID              int64  `json:"id"`
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
	Channel         string `json:"channel"`
}

// ParseWebhook decodes a webhook body
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperror.Validation(map[string]string{"body": "malformed webhook payload"})
	}
	if event.Event == "" {
		return nil, apperror.Validation(map[string]string{"event": "missing event name"})
	}
	return &event, nil
}
