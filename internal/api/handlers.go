/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the settlement and withdrawal engines.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and the error taxonomy.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/app"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/shopspring/decimal"
)

const defaultPageSize = 50

// PaymentService is the application surface the handlers call. *app.Service implements it.
type PaymentService interface {
	CreatePaymentLink(ctx context.Context, buyerID uuid.UUID, req domain.PaymentLinkRequest) (*domain.PaymentLink, error)
	ProcessWebhook(ctx context.Context, body []byte) (*domain.WebhookResult, error)
	CancelPayment(ctx context.Context, requesterID uuid.UUID, orderCode int64) (*domain.CancelResult, error)
	CreateWithdrawRequest(ctx context.Context, instructorID uuid.UUID, amount decimal.Decimal, note *string) (*domain.WithdrawRequest, error)
	ProcessWithdrawRequest(ctx context.Context, adminID, requestID uuid.UUID, action domain.WithdrawAction, note *string) (*domain.WithdrawRequest, error)
	GetWalletBalance(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	GetAllTransactions(ctx context.Context, viewer app.Viewer, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	GetWithdrawRequests(ctx context.Context, viewer app.Viewer, opts domain.WithdrawRequestListOptions) ([]domain.WithdrawRequest, error)
}

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service PaymentService
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service PaymentService) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

type createPaymentLinkRequest struct {
	CourseID *uuid.UUID `json:"course_id"`
	GroupID  *uuid.UUID `json:"group_id"`
}

type cancelPaymentRequest struct {
	OrderCode json.Number `json:"order_code"`
}

type withdrawRequestBody struct {
	Amount decimal.Decimal `json:"amount"`
	Note   *string         `json:"note"`
}

type processWithdrawRequestBody struct {
	RequestID uuid.UUID             `json:"request_id"`
	Action    domain.WithdrawAction `json:"action"`
	Note      *string               `json:"note"`
}

type walletInfoResponse struct {
	OwnerID   uuid.UUID       `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// CreatePaymentLinkHandler handles POST /payment/create-link.
func (h *PaymentHandlers) CreatePaymentLinkHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req createPaymentLinkRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, err := h.service.CreatePaymentLink(r.Context(), buyerID, domain.PaymentLinkRequest{
		CourseID: req.CourseID,
		GroupID:  req.GroupID,
	})
	if err != nil {
		h.writeServiceError(w, "create_payment_link", buyerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, link)
}

// CancelPaymentHandler handles POST /payment/cancel.
func (h *PaymentHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req cancelPaymentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	orderCode, err := req.OrderCode.Int64()
	if err != nil || orderCode <= 0 {
		h.writeError(w, http.StatusBadRequest, "order_code must be a positive integer")
		return
	}

	result, err := h.service.CancelPayment(r.Context(), requesterID, orderCode)
	if err != nil {
		h.writeServiceError(w, "cancel_payment", requesterID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// CreateWithdrawRequestHandler handles POST /withdraw/request.
func (h *PaymentHandlers) CreateWithdrawRequestHandler(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req withdrawRequestBody
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.CreateWithdrawRequest(r.Context(), instructorID, req.Amount, req.Note)
	if err != nil {
		h.writeServiceError(w, "create_withdraw_request", instructorID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

// ProcessWithdrawRequestHandler handles POST /withdraw/approve. Only reachable by admins.
func (h *PaymentHandlers) ProcessWithdrawRequestHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req processWithdrawRequestBody
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.ProcessWithdrawRequest(r.Context(), adminID, req.RequestID, req.Action, req.Note)
	if err != nil {
		h.writeServiceError(w, "process_withdraw_request", adminID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// GetWalletInfoHandler handles GET /wallet/info.
func (h *PaymentHandlers) GetWalletInfoHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	wallet, err := h.service.GetWalletBalance(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "wallet_info", ownerID, err)
		return
	}

	resp := walletInfoResponse{
		OwnerID:  wallet.OwnerID,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	}
	if !wallet.UpdatedAt.IsZero() {
		updatedAt := wallet.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListTransactionsHandler handles GET /transactions.
func (h *PaymentHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	query := r.URL.Query()
	limit, err := parseOptionalPositiveInt(query.Get("limit"), defaultPageSize)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	opts := domain.TransactionListOptions{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		txType := domain.TransactionType(raw)
		opts.Type = &txType
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.TransactionStatus(raw)
		opts.Status = &status
	}

	items, err := h.service.GetAllTransactions(r.Context(), viewer, opts)
	if err != nil {
		h.writeServiceError(w, "list_transactions", viewer.ID, err)
		return
	}
	if items == nil {
		items = []domain.Transaction{}
	}

	h.writeJSON(w, http.StatusOK, items)
}

// ListWithdrawRequestsHandler handles GET /withdraw/requests.
func (h *PaymentHandlers) ListWithdrawRequestsHandler(w http.ResponseWriter, r *http.Request) {
	viewer, ok := viewerFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	query := r.URL.Query()
	limit, err := parseOptionalPositiveInt(query.Get("limit"), defaultPageSize)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	opts := domain.WithdrawRequestListOptions{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.WithdrawStatus(raw)
		opts.Status = &status
	}

	items, err := h.service.GetWithdrawRequests(r.Context(), viewer, opts)
	if err != nil {
		h.writeServiceError(w, "list_withdraw_requests", viewer.ID, err)
		return
	}
	if items == nil {
		items = []domain.WithdrawRequest{}
	}

	h.writeJSON(w, http.StatusOK, items)
}

func viewerFromContext(ctx context.Context) (app.Viewer, bool) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return app.Viewer{}, false
	}
	role, _ := GetRole(ctx)
	return app.Viewer{ID: userID, IsAdmin: role == RoleAdmin}, true
}

// mapServiceError translates the domain error taxonomy to an HTTP status and a
// caller-facing message.
func mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAlreadyOwned), errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "Insufficient wallet balance"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests. Please try again later."
	case errors.Is(err, domain.ErrPaymentGateway):
		return http.StatusBadGateway, "Payment provider is unavailable. Please try again."
	case errors.Is(err, domain.ErrTransientStorage):
		return http.StatusServiceUnavailable, "Service temporarily unavailable. Please retry."
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, userID uuid.UUID, err error) {
	status, message := mapServiceError(err)

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	level := "warn"
	if status >= http.StatusInternalServerError {
		level = "error"
	}
	log.Printf("level=%s component=api endpoint=%s outcome=failed status=%d user_id=%s err=%v", level, endpoint, status, userID, err)
	h.writeError(w, status, message)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSONResponse(w, status, data)
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeErrorJSON(w, status, message)
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}
