package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(baseURL, "client-id", "api-key", "checksum-key", 2*time.Second)
	c.RetryDelay = time.Millisecond
	return c
}

func TestCreateCheckoutSignsAndDecodes(t *testing.T) {
	var received CheckoutRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payment-requests" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-client-id") != "client-id" || r.Header.Get("x-api-key") != "api-key" {
			t.Fatalf("missing auth headers")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"orderCode":42,"amount":100000,"checkoutUrl":"https://pay.example/42","qrCode":"qr","paymentLinkId":"pl_1","status":"PENDING"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	data, err := client.CreateCheckout(context.Background(), CheckoutRequest{
		OrderCode:   42,
		Amount:      100000,
		Description: "Learnary order 42 with a very long tail",
		CancelURL:   "https://app/cancel",
		ReturnURL:   "https://app/return",
	})
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if data.CheckoutURL != "https://pay.example/42" || data.PaymentLinkID != "pl_1" {
		t.Fatalf("unexpected checkout data %+v", data)
	}
	if len([]rune(received.Description)) > maxDescriptionLength {
		t.Fatalf("description was not truncated: %q", received.Description)
	}
	expected := client.sign("amount=100000&cancelUrl=https://app/cancel&description=" + received.Description + "&orderCode=42&returnUrl=https://app/return")
	if received.Signature != expected {
		t.Fatalf("signature mismatch: got %s want %s", received.Signature, expected)
	}
}

func TestCreateCheckoutRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"orderCode":7,"checkoutUrl":"https://pay.example/7"}}`))
	}))
	defer server.Close()

	data, err := newTestClient(server.URL).CreateCheckout(context.Background(), CheckoutRequest{OrderCode: 7, Amount: 1})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if data.OrderCode != 7 {
		t.Fatalf("unexpected order code %d", data.OrderCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestCreateCheckoutDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"code":"231","desc":"order code already exists","data":null}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateCheckout(context.Background(), CheckoutRequest{OrderCode: 7, Amount: 1})
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ErrorResponse, got %v", err)
	}
	if apiErr.Code != "231" {
		t.Fatalf("unexpected code %s", apiErr.Code)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestCancelPaymentLinkPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payment-requests/99/cancel" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"status":"CANCELLED"}}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).CancelPaymentLink(context.Background(), 99, "expired"); err != nil {
		t.Fatalf("CancelPaymentLink returned error: %v", err)
	}
}

func TestVerifyWebhook(t *testing.T) {
	client := newTestClient("http://unused")
	data := map[string]interface{}{
		"orderCode":          int64(1730000000000123),
		"amount":             100000,
		"description":        "Learnary order",
		"reference":          "FT123",
		"code":               "00",
		"desc":               "success",
		"paymentLinkId":      "pl_1",
		"counterAccountName": nil,
	}
	signature, err := client.SignWebhookData(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	build := func(sig string) []byte {
		blob, _ := json.Marshal(map[string]interface{}{
			"code":      "00",
			"desc":      "success",
			"success":   true,
			"data":      data,
			"signature": sig,
		})
		return blob
	}

	t.Run("valid signature", func(t *testing.T) {
		event, err := client.VerifyWebhook(build(signature))
		if err != nil {
			t.Fatalf("VerifyWebhook returned error: %v", err)
		}
		if event.Data.OrderCode != 1730000000000123 || event.Data.Amount != 100000 {
			t.Fatalf("unexpected data %+v", event.Data)
		}
		if !event.Successful() {
			t.Fatalf("expected successful event")
		}
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := "00" + signature[2:]
		if tampered == signature {
			tampered = "ff" + signature[2:]
		}
		_, err := client.VerifyWebhook(build(tampered))
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := client.VerifyWebhook(build(""))
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newTestClient("http://unused")
		other.ChecksumKey = "other"
		_, err := other.VerifyWebhook(build(signature))
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})
}

func TestCanonicalizeSortsAndFormats(t *testing.T) {
	got, err := canonicalize(map[string]interface{}{
		"b":    json.Number("2"),
		"a":    "x",
		"c":    nil,
		"flag": true,
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != "a=x&b=2&c=&flag=true" {
		t.Fatalf("unexpected canonical string %q", got)
	}
}
