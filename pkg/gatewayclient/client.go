/**
 * @description
 * This package provides a client for the hosted-checkout payment provider. It creates
 * payment links, cancels them and verifies webhook notifications. Every request and
 * every webhook is authenticated with an HMAC-SHA256 checksum over the sorted fields.
 *
 * @dependencies
 * - bytes, context, crypto/hmac, crypto/sha256, encoding/json, net/http: Standard Go libraries.
 * - github.com/avast/retry-go: Retries transport failures and 5xx responses.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

const (
	successCode          = "00"
	maxDescriptionLength = 25
)

// ErrInvalidSignature is returned when a webhook checksum does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Client is a client for the payment provider API.
type Client struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	HTTPClient  *http.Client
	Attempts    uint
	RetryDelay  time.Duration
}

// NewClient creates a new payment provider client.
func NewClient(baseURL, clientID, apiKey, checksumKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		ClientID:    clientID,
		APIKey:      apiKey,
		ChecksumKey: checksumKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Attempts:   3,
		RetryDelay: 300 * time.Millisecond,
	}
}

// CheckoutRequest is the payload for creating a hosted payment link. Amount is in
// the smallest currency unit.
type CheckoutRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	ExpiredAt   int64  `json:"expiredAt,omitempty"`
	Signature   string `json:"signature"`
}

// CheckoutData is the provider's view of a created payment link.
type CheckoutData struct {
	Bin           string `json:"bin"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	OrderCode     int64  `json:"orderCode"`
	Currency      string `json:"currency"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
}

type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

// ErrorResponse represents an error returned by the provider.
type ErrorResponse struct {
	Status int
	Code   string
	Desc   string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("payment gateway error: status=%d code=%s desc=%s", e.Status, e.Code, e.Desc)
}

// CreateCheckout creates a hosted payment link for an order.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutData, error) {
	req.Description = truncateDescription(req.Description)
	req.Signature = c.sign(fmt.Sprintf(
		"amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		req.Amount, req.CancelURL, req.Description, req.OrderCode, req.ReturnURL,
	))

	var data CheckoutData
	if err := c.do(ctx, "create_checkout", http.MethodPost, "/v2/payment-requests", req, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CancelPaymentLink cancels an unpaid payment link.
func (c *Client) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	payload := map[string]string{"cancellationReason": reason}
	path := "/v2/payment-requests/" + strconv.FormatInt(orderCode, 10) + "/cancel"
	return c.do(ctx, "cancel_payment_link", http.MethodPost, path, payload, nil)
}

// do sends one JSON request, retrying transport errors and 5xx responses.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	attempts := c.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			return c.doOnce(ctx, op, method, path, body, out)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.RetryDelay),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("level=warn component=gateway_client op=%s attempt=%d msg=\"retrying request\" err=%v", op, n+1, err)
		}),
	)
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to execute %s request: %w", op, err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to read %s response: %w", op, err)}
	}

	var env envelope
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &env); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Code != successCode {
		log.Printf("level=warn component=gateway_client op=%s status=%d code=%q desc=%q", op, resp.StatusCode, env.Code, env.Desc)
		return &ErrorResponse{Status: resp.StatusCode, Code: env.Code, Desc: env.Desc}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", op, err)
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var tErr *transportError
	if errors.As(err, &tErr) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return false
}

func truncateDescription(description string) string {
	runes := []rune(strings.TrimSpace(description))
	if len(runes) > maxDescriptionLength {
		runes = runes[:maxDescriptionLength]
	}
	return string(runes)
}
