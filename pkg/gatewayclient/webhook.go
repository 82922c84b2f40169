/**
 * @description
 * Webhook verification for the payment provider. The signature is an HMAC-SHA256
 * over the data object's fields sorted by key and joined as key=value pairs.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Checksum computation.
 */

package gatewayclient

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// WebhookData is the payment detail block of a provider notification.
type WebhookData struct {
	OrderCode           int64  `json:"orderCode"`
	Amount              int64  `json:"amount"`
	Description         string `json:"description"`
	AccountNumber       string `json:"accountNumber"`
	Reference           string `json:"reference"`
	TransactionDateTime string `json:"transactionDateTime"`
	Currency            string `json:"currency"`
	PaymentLinkID       string `json:"paymentLinkId"`
	Code                string `json:"code"`
	Desc                string `json:"desc"`
}

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	Code    string
	Desc    string
	Success bool
	Data    WebhookData
}

// Successful reports whether the provider marked the payment as paid.
func (e *WebhookEvent) Successful() bool {
	if e.Code != successCode || !e.Success {
		return false
	}
	return e.Data.Code == "" || e.Data.Code == successCode
}

type webhookEnvelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// VerifyWebhook checks the checksum of a raw notification body and decodes it.
// The checksum covers the data object only.
func (c *Client) VerifyWebhook(body []byte) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	if env.Signature == "" || len(env.Data) == 0 {
		return nil, ErrInvalidSignature
	}

	fields := map[string]interface{}{}
	decoder := json.NewDecoder(bytes.NewReader(env.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode webhook data: %w", err)
	}

	canonical, err := canonicalize(fields)
	if err != nil {
		return nil, err
	}
	if !c.verify(canonical, env.Signature) {
		return nil, ErrInvalidSignature
	}

	event := &WebhookEvent{Code: env.Code, Desc: env.Desc, Success: env.Success}
	if err := json.Unmarshal(env.Data, &event.Data); err != nil {
		return nil, fmt.Errorf("failed to decode webhook data: %w", err)
	}
	return event, nil
}

// SignWebhookData produces the checksum the provider would attach to data.
// Used by tests and local tooling that replay notifications.
func (c *Client) SignWebhookData(data interface{}) (string, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	fields := map[string]interface{}{}
	decoder := json.NewDecoder(bytes.NewReader(blob))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return "", err
	}
	canonical, err := canonicalize(fields)
	if err != nil {
		return "", err
	}
	return c.sign(canonical), nil
}

func (c *Client) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.ChecksumKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) verify(message, signature string) bool {
	provided, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.ChecksumKey))
	mac.Write([]byte(message))
	return hmac.Equal(mac.Sum(nil), provided)
}

// canonicalize joins key=value pairs sorted by key with '&'. Nulls become empty
// strings and nested values are re-encoded as JSON.
func canonicalize(fields map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		var value string
		switch v := fields[key].(type) {
		case nil:
			value = ""
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			if v {
				value = "true"
			} else {
				value = "false"
			}
		default:
			blob, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("failed to encode webhook field %s: %w", key, err)
			}
			value = string(blob)
		}
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, "&"), nil
}
