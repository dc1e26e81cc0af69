package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/service/delivery"
)

// ComplianceAPI is the slice of the compliance service the API exposes
type ComplianceAPI interface {
	GrantConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error
	NextAllowedTime(ctx context.Context, customerID uuid.UUID, channel values.Channel) (time.Time, error)
	AuditTrail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error)
}

// DeliveryAPI is the slice of the delivery engine the API exposes
type DeliveryAPI interface {
	Submit(ctx context.Context, req delivery.SendRequest, maxRetries int) (*messaging.Message, error)
	Cancel(ctx context.Context, messageID uuid.UUID) (*messaging.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (*messaging.Message, []messaging.DeliveryAttempt, error)
	HandleFeedback(ctx context.Context, fb delivery.Feedback) error
}

// Dispatcher queues accepted messages for asynchronous processing
type Dispatcher interface {
	Enqueue(messageID uuid.UUID) bool
}

// Handler serves the outreach REST API
type Handler struct {
	compliance ComplianceAPI
	delivery   DeliveryAPI
	dispatcher Dispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	maxRetries int
}

// NewHandler creates the API handler
func NewHandler(complianceSvc ComplianceAPI, deliverySvc DeliveryAPI, dispatcher Dispatcher, maxRetries int, logger *zap.Logger) *Handler {
	return &Handler{
		compliance: complianceSvc,
		delivery:   deliverySvc,
		dispatcher: dispatcher,
		validator:  validator.New(),
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Routes returns the API route mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/communications", h.submitCommunication)
	mux.HandleFunc("GET /api/v1/communications/{id}", h.getCommunication)
	mux.HandleFunc("DELETE /api/v1/communications/{id}", h.cancelCommunication)
	mux.HandleFunc("POST /api/v1/feedback", h.providerFeedback)
	mux.HandleFunc("POST /api/v1/customers/{id}/consents", h.grantConsent)
	mux.HandleFunc("GET /api/v1/customers/{id}/next-allowed", h.nextAllowed)
	mux.HandleFunc("GET /api/v1/customers/{id}/audit-trail", h.auditTrail)
	mux.HandleFunc("GET /healthz", h.health)
	return mux
}

type submitRequest struct {
	CustomerID string `json:"customer_id" validate:"required,uuid4"`
	InvoiceID  string `json:"invoice_id" validate:"required,uuid4"`
	AmountDue  string `json:"amount_due" validate:"required"`
	Channel    string `json:"channel" validate:"required,oneof=email sms voice"`
	Strategy   string `json:"strategy" validate:"required"`
	Recipient  string `json:"recipient" validate:"required"`
}

func (h *Handler) submitCommunication(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}

	customerID, _ := uuid.Parse(req.CustomerID)
	invoiceID, _ := uuid.Parse(req.InvoiceID)
	amount, err := parseAmount(req.AmountDue)
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_AMOUNT", "amount_due must be a decimal number"))
		return
	}

	msg, err := h.delivery.Submit(r.Context(), delivery.SendRequest{
		CustomerID: customerID,
		InvoiceID:  invoiceID,
		AmountDue:  amount,
		Channel:    values.Channel(req.Channel),
		Strategy:   req.Strategy,
		Recipient:  req.Recipient,
	}, h.maxRetries)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.dispatcher.Enqueue(msg.ID)
	h.writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) getCommunication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	msg, attempts, err := h.delivery.GetMessage(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":  msg,
		"attempts": attempts,
	})
}

func (h *Handler) cancelCommunication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	msg, err := h.delivery.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

type feedbackRequest struct {
	MessageID   string `json:"message_id" validate:"required,uuid4"`
	Provider    string `json:"provider" validate:"required"`
	Status      string `json:"status" validate:"required,oneof=delivered failed"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *Handler) providerFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	messageID, _ := uuid.Parse(req.MessageID)

	err := h.delivery.HandleFeedback(r.Context(), delivery.Feedback{
		MessageID:   messageID,
		Provider:    req.Provider,
		Status:      delivery.FeedbackStatus(req.Status),
		Code:        req.Code,
		Description: req.Description,
		ReceivedAt:  time.Now(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type consentRequest struct {
	Channel   string     `json:"channel" validate:"required,oneof=email sms voice"`
	Method    string     `json:"method" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) grantConsent(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req consentRequest
	if !h.decode(w, r, &req) {
		return
	}

	consent := compliance.NewConsentRecord(values.Channel(req.Channel),
		compliance.ConsentMethod(req.Method), time.Now(), req.ExpiresAt)
	if err := h.compliance.GrantConsent(r.Context(), customerID, consent); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, consent)
}

func (h *Handler) nextAllowed(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	channel := values.Channel(r.URL.Query().Get("channel"))
	if !channel.IsValid() {
		h.writeError(w, errors.NewValidationError("INVALID_CHANNEL", "channel must be one of email, sms, voice"))
		return
	}

	at, err := h.compliance.NextAllowedTime(r.Context(), customerID, channel)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":  customerID,
		"channel":      channel,
		"next_allowed": at,
	})
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	from, to, err := parseWindow(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.compliance.AuditTrail(r.Context(), customerID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"entries":     entries,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now()
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.NewValidationError("INVALID_FROM", "from must be RFC3339")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.NewValidationError("INVALID_TO", "to must be RFC3339")
		}
		to = t
	}
	return from, to, nil
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_ID", "path id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_BODY", "request body must be valid JSON"))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return false
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := errors.GetStatusCode(err)
	body := errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Message = appErr.Message
	}
	if status >= 500 {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]any{"error": body})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
