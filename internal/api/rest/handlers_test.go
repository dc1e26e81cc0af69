package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/service/delivery"
)

type fakeCompliance struct {
	consents    []compliance.ConsentRecord
	nextAllowed time.Time
	nextErr     error
	trail       []*audit.Entry
}

func (f *fakeCompliance) GrantConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	f.consents = append(f.consents, consent)
	return nil
}

func (f *fakeCompliance) NextAllowedTime(ctx context.Context, customerID uuid.UUID, channel values.Channel) (time.Time, error) {
	if f.nextErr != nil {
		return time.Time{}, f.nextErr
	}
	return f.nextAllowed, nil
}

func (f *fakeCompliance) AuditTrail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error) {
	return f.trail, nil
}

type fakeDelivery struct {
	submitted []delivery.SendRequest
	message   *messaging.Message
	cancelErr error
	feedback  []delivery.Feedback
}

func (f *fakeDelivery) Submit(ctx context.Context, req delivery.SendRequest, maxRetries int) (*messaging.Message, error) {
	f.submitted = append(f.submitted, req)
	msg, err := messaging.NewMessage(req.CustomerID, req.InvoiceID, req.AmountDue,
		req.Channel, req.Strategy, req.Recipient, maxRetries, time.Now())
	if err != nil {
		return nil, err
	}
	f.message = msg
	return msg, nil
}

func (f *fakeDelivery) Cancel(ctx context.Context, messageID uuid.UUID) (*messaging.Message, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.message, nil
}

func (f *fakeDelivery) GetMessage(ctx context.Context, messageID uuid.UUID) (*messaging.Message, []messaging.DeliveryAttempt, error) {
	if f.message == nil {
		return nil, nil, errors.ErrMessageNotFound
	}
	return f.message, nil, nil
}

func (f *fakeDelivery) HandleFeedback(ctx context.Context, fb delivery.Feedback) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

type fakeDispatcher struct {
	enqueued []uuid.UUID
}

func (f *fakeDispatcher) Enqueue(messageID uuid.UUID) bool {
	f.enqueued = append(f.enqueued, messageID)
	return true
}

func newTestHandler() (*Handler, *fakeCompliance, *fakeDelivery, *fakeDispatcher) {
	fc := &fakeCompliance{nextAllowed: time.Now()}
	fd := &fakeDelivery{}
	disp := &fakeDispatcher{}
	return NewHandler(fc, fd, disp, 3, zap.NewNop()), fc, fd, disp
}

func doJSON(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func TestSubmitCommunication(t *testing.T) {
	t.Run("valid request is accepted and enqueued", func(t *testing.T) {
		h, _, fd, disp := newTestHandler()

		w := doJSON(t, h, http.MethodPost, "/api/v1/communications", map[string]string{
			"customer_id": uuid.New().String(),
			"invoice_id":  uuid.New().String(),
			"amount_due":  "420.50",
			"channel":     "email",
			"strategy":    "payment_notice",
			"recipient":   "debtor@example.com",
		})

		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, fd.submitted, 1)
		assert.Equal(t, "420.5", fd.submitted[0].AmountDue.String())
		require.Len(t, disp.enqueued, 1)
		assert.Equal(t, fd.message.ID, disp.enqueued[0])
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		h, _, fd, _ := newTestHandler()

		w := doJSON(t, h, http.MethodPost, "/api/v1/communications", map[string]string{
			"customer_id": uuid.New().String(),
			"channel":     "email",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, fd.submitted)
	})

	t.Run("unknown channel rejected", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		w := doJSON(t, h, http.MethodPost, "/api/v1/communications", map[string]string{
			"customer_id": uuid.New().String(),
			"invoice_id":  uuid.New().String(),
			"amount_due":  "10",
			"channel":     "carrier_pigeon",
			"strategy":    "payment_notice",
			"recipient":   "debtor@example.com",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestProviderFeedback(t *testing.T) {
	h, _, fd, _ := newTestHandler()

	w := doJSON(t, h, http.MethodPost, "/api/v1/feedback", map[string]string{
		"message_id":  uuid.New().String(),
		"provider":    "smtp",
		"status":      "failed",
		"code":        "550",
		"description": "no such user",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fd.feedback, 1)
	assert.Equal(t, delivery.FeedbackFailed, fd.feedback[0].Status)
	assert.Equal(t, "550", fd.feedback[0].Code)
}

func TestGrantConsent(t *testing.T) {
	h, fc, _, _ := newTestHandler()
	customer := uuid.New()

	w := doJSON(t, h, http.MethodPost, "/api/v1/customers/"+customer.String()+"/consents",
		map[string]string{"channel": "sms", "method": "web_form"})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, fc.consents, 1)
	assert.Equal(t, values.ChannelSMS, fc.consents[0].Channel)
	assert.True(t, fc.consents[0].Granted)
}

func TestNextAllowed(t *testing.T) {
	t.Run("returns the scheduling hint", func(t *testing.T) {
		h, fc, _, _ := newTestHandler()
		fc.nextAllowed = time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

		w := doJSON(t, h, http.MethodGet,
			"/api/v1/customers/"+uuid.New().String()+"/next-allowed?channel=email", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "2026-03-12T08:00:00Z", resp["next_allowed"])
	})

	t.Run("consent block maps to 403", func(t *testing.T) {
		h, fc, _, _ := newTestHandler()
		fc.nextErr = errors.NewComplianceError("consent_missing",
			"communication blocked by a constraint that does not clear with time")

		w := doJSON(t, h, http.MethodGet,
			"/api/v1/customers/"+uuid.New().String()+"/next-allowed?channel=sms", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		var resp map[string]map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "COMPLIANCE_VIOLATION", resp["error"]["code"])
	})

	t.Run("missing channel rejected", func(t *testing.T) {
		h, _, _, _ := newTestHandler()
		w := doJSON(t, h, http.MethodGet,
			"/api/v1/customers/"+uuid.New().String()+"/next-allowed", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuditTrail(t *testing.T) {
	h, fc, _, _ := newTestHandler()
	customer := uuid.New()
	entry := audit.NewEntry(customer, uuid.New(), "communication_compliance",
		[]string{"consent_missing"}, nil, 1, time.Now())
	entry.Chain(1, "")
	fc.trail = []*audit.Entry{entry}

	w := doJSON(t, h, http.MethodGet,
		"/api/v1/customers/"+customer.String()+"/audit-trail", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "FAIL", resp.Entries[0]["result"])
}

func TestCancelCommunication(t *testing.T) {
	h, _, fd, _ := newTestHandler()
	fd.cancelErr = errors.NewBusinessError("INVALID_TRANSITION", "cannot cancel from status in_flight")

	w := doJSON(t, h, http.MethodDelete,
		"/api/v1/communications/"+uuid.New().String(), nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPathValidation(t *testing.T) {
	h, _, _, _ := newTestHandler()
	w := doJSON(t, h, http.MethodGet, "/api/v1/communications/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
