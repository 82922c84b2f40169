/**
 * @description
 * The public payment provider callback. Authenticity comes from the checksum over
 * the data object, not from a bearer token.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/learnary/payment-service/internal/domain"
)

const maxWebhookBodyBytes = 1 << 20

// PaymentWebhookHandler handles POST /payment/webhook. The provider retries every
// non-2xx response, so only signature failures and transient storage errors are
// reported as failures; every other verified event is acknowledged.
func (h *PaymentHandlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=read_body err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	result, err := h.service.ProcessWebhook(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		case errors.Is(err, domain.ErrTransientStorage):
			log.Printf("level=error component=api endpoint=payment_webhook outcome=retry err=%v", err)
			h.writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable. Please retry.")
		default:
			log.Printf("level=error component=api endpoint=payment_webhook outcome=failed err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	log.Printf("level=info component=api endpoint=payment_webhook outcome=%s order_code=%d", result.Outcome, result.OrderCode)
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
