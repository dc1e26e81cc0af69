package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

type stubMessages struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*messaging.Message
}

func newStubMessages() *stubMessages {
	return &stubMessages{byID: map[uuid.UUID]*messaging.Message{}}
}

func (s *stubMessages) Save(ctx context.Context, msg *messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[msg.ID] = msg
	return nil
}

func (s *stubMessages) GetByID(ctx context.Context, id uuid.UUID) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrMessageNotFound
	}
	return msg, nil
}

func (s *stubMessages) Update(ctx context.Context, msg *messaging.Message) error {
	return s.Save(ctx, msg)
}

func (s *stubMessages) ListDue(ctx context.Context, before time.Time, limit int) ([]*messaging.Message, error) {
	return nil, nil
}

type stubAttempts struct {
	mu    sync.Mutex
	items []messaging.DeliveryAttempt
}

func (s *stubAttempts) Append(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, attempt)
	return nil
}

func (s *stubAttempts) Update(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == attempt.ID {
			s.items[i] = attempt
			return nil
		}
	}
	return errors.NewInternalError("attempt not found")
}

func (s *stubAttempts) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]messaging.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []messaging.DeliveryAttempt
	for _, a := range s.items {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	return out, nil
}

type scriptedChecker struct {
	mu       sync.Mutex
	verdict  compliance.Verdict
	err      error
	outcomes []compliance.CommunicationRecord
}

func (s *scriptedChecker) CheckCommunication(ctx context.Context, communicationID uuid.UUID, req compliance.Request) (*compliance.Verdict, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := s.verdict
	return &v, nil
}

func (s *scriptedChecker) RecordOutcome(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, rec)
	return nil
}

type stubProfiles struct{}

func (stubProfiles) Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error) {
	return compliance.NewProfile(customerID, time.Now()), nil
}

type staticContent struct{}

func (staticContent) Render(ctx context.Context, msg *messaging.Message) (string, string, error) {
	return "Payment reminder", "This is an attempt to collect a debt. You have the right to dispute it.", nil
}

type failingContent struct{}

func (failingContent) Render(ctx context.Context, msg *messaging.Message) (string, string, error) {
	return "", "", errors.NewInternalError("template missing")
}

type stubGateway struct {
	mu       sync.Mutex
	provider string
	err      error
	sent     []uuid.UUID
}

func (g *stubGateway) Provider() string { return g.provider }

func (g *stubGateway) Send(ctx context.Context, msg *messaging.Message) (SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return SendResult{}, g.err
	}
	g.sent = append(g.sent, msg.ID)
	return SendResult{ProviderMessageID: "prov-" + msg.ID.String()[:8]}, nil
}

type engineHarness struct {
	svc      *Service
	messages *stubMessages
	attempts *stubAttempts
	checker  *scriptedChecker
	gateway  *stubGateway
}

func proceedVerdict() compliance.Verdict {
	return compliance.Verdict{Compliant: true, CanProceed: true}
}

func blockedVerdict(until time.Time) compliance.Verdict {
	return compliance.Verdict{
		CanProceed: false,
		Violations: []compliance.Violation{{
			Type:     compliance.ViolationTimeRestriction,
			Severity: compliance.SeverityHigh,
			Channel:  values.ChannelEmail,
		}},
		NextAllowedTime: &until,
	}
}

func newEngine(t *testing.T, now time.Time, content ContentProvider) *engineHarness {
	t.Helper()
	h := &engineHarness{
		messages: newStubMessages(),
		attempts: &stubAttempts{},
		checker:  &scriptedChecker{verdict: proceedVerdict()},
		gateway:  &stubGateway{provider: "smtp"},
	}
	gateways := map[values.Channel]Gateway{
		values.ChannelEmail: h.gateway,
		values.ChannelSMS:   h.gateway,
		values.ChannelVoice: h.gateway,
	}
	h.svc = NewService(h.messages, h.attempts, h.checker, stubProfiles{}, content,
		gateways, DefaultRetryPolicy(), zap.NewNop(), nil).
		WithClock(func() time.Time { return now })
	return h
}

func submitEmail(t *testing.T, h *engineHarness, maxRetries int) *messaging.Message {
	t.Helper()
	msg, err := h.svc.Submit(context.Background(), SendRequest{
		CustomerID: uuid.New(),
		InvoiceID:  uuid.New(),
		AmountDue:  decimal.NewFromInt(420),
		Channel:    values.ChannelEmail,
		Strategy:   "payment_notice",
		Recipient:  "debtor@example.com",
	}, maxRetries)
	require.NoError(t, err)
	require.Equal(t, messaging.StatusPending, msg.Status)
	return msg
}

func TestService_ProcessDispatches(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	assert.Equal(t, messaging.StatusInFlight, got.Status)
	assert.NotEmpty(t, got.Body)
	assert.Equal(t, []values.Channel{values.ChannelEmail}, got.AttemptedChannels)
	assert.Equal(t, []uuid.UUID{msg.ID}, h.gateway.sent)

	attempts, err := h.attempts.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, "smtp", attempts[0].Provider)
	assert.Equal(t, messaging.AttemptStarted, attempts[0].Status)
}

func TestService_ProcessBlocked(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	until := now.Add(10 * time.Hour)
	h.checker.verdict = blockedVerdict(until)
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(context.Background(), msg.ID)
	require.NoError(t, err)

	assert.Equal(t, messaging.StatusBlocked, got.Status)
	require.NotNil(t, got.NextAllowedAt)
	assert.True(t, got.NextAllowedAt.Equal(until))
	assert.Empty(t, h.gateway.sent)

	// The block still lands in the customer's history as non-compliant.
	require.Len(t, h.checker.outcomes, 1)
	assert.False(t, h.checker.outcomes[0].Compliant)
	assert.Contains(t, h.checker.outcomes[0].ViolationTypes, compliance.ViolationTimeRestriction)
}

func TestService_ProcessChecksWithheldVerdict(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	h.checker.err = errors.ErrAuditWriteFailed
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(context.Background(), msg.ID)
	require.Error(t, err)

	// Parked, not failed: the worker re-enters once the audit store recovers.
	assert.Equal(t, messaging.StatusBlocked, got.Status)
	require.NotNil(t, got.NextAllowedAt)
	assert.Empty(t, h.gateway.sent)
}

func TestService_ProcessContentFailureIsPermanent(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, failingContent{})
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusPermanentlyFailed, got.Status)
	assert.Contains(t, got.FailureReason, "content rendering failed")
}

func TestService_ProcessContentFallback(t *testing.T) {
	now := time.Now()
	renderer, err := NewTemplateRenderer([]string{"this is an attempt to collect a debt"})
	require.NoError(t, err)
	h := newEngine(t, now, renderer)
	ctx := context.Background()

	msg, err := h.svc.Submit(ctx, SendRequest{
		CustomerID: uuid.New(),
		InvoiceID:  uuid.New(),
		AmountDue:  decimal.NewFromInt(250),
		Channel:    values.ChannelEmail,
		Strategy:   "hardship_review",
		Recipient:  "debtor@example.com",
	}, 3)
	require.NoError(t, err)

	got, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	// The strategy has no template of its own; the generic payment notice
	// goes out instead of the message closing.
	assert.Equal(t, messaging.StatusInFlight, got.Status)
	assert.Contains(t, got.Subject, "Payment notice")
	assert.Contains(t, got.Body, "outstanding balance")
	assert.Equal(t, "hardship_review", got.Strategy)
	assert.Equal(t, []uuid.UUID{msg.ID}, h.gateway.sent)
}

func TestService_TerminalClosureLogged(t *testing.T) {
	now := time.Now()
	core, logs := observer.New(zapcore.WarnLevel)
	h := newEngine(t, now, failingContent{})
	h.svc = NewService(h.messages, h.attempts, h.checker, stubProfiles{}, failingContent{},
		map[values.Channel]Gateway{values.ChannelEmail: h.gateway},
		DefaultRetryPolicy(), zap.New(core), nil).
		WithClock(func() time.Time { return now })
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, messaging.StatusPermanentlyFailed, got.Status)

	// The closure is logged even with no metrics registry wired.
	entries := logs.FilterMessage("message closed without delivery").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(messaging.StatusPermanentlyFailed), entries[0].ContextMap()["status"])
}

func TestService_FeedbackDelivered(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)
	_, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	err = h.svc.HandleFeedback(ctx, Feedback{
		MessageID: msg.ID, Provider: "smtp", Status: FeedbackDelivered, ReceivedAt: now,
	})
	require.NoError(t, err)

	got, attempts, err := h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusDelivered, got.Status)
	require.Len(t, attempts, 1)
	assert.Equal(t, messaging.AttemptSucceeded, attempts[0].Status)

	require.Len(t, h.checker.outcomes, 1)
	assert.True(t, h.checker.outcomes[0].Compliant)
	assert.Equal(t, values.ChannelEmail, h.checker.outcomes[0].Channel)

	// Duplicate callbacks after the terminal state are ignored.
	require.NoError(t, h.svc.HandleFeedback(ctx, Feedback{
		MessageID: msg.ID, Provider: "smtp", Status: FeedbackDelivered, ReceivedAt: now,
	}))
	got, _, err = h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusDelivered, got.Status)
}

func TestService_FeedbackRetryableFailure(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)
	_, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	err = h.svc.HandleFeedback(ctx, Feedback{
		MessageID: msg.ID, Provider: "smtp", Status: FeedbackFailed,
		Code: "421", Description: "mailbox busy", ReceivedAt: now,
	})
	require.NoError(t, err)

	got, attempts, err := h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusRetryScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(now.Add(time.Minute)))
	// Email already attempted, so the scheduler fell over to SMS.
	assert.Equal(t, values.ChannelSMS, got.Channel)

	require.Len(t, attempts, 1)
	assert.Equal(t, messaging.AttemptFailed, attempts[0].Status)
	assert.Equal(t, messaging.ErrorClassTemporary, attempts[0].ErrorClass)
}

func TestService_FeedbackPermanentFailure(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)
	_, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	err = h.svc.HandleFeedback(ctx, Feedback{
		MessageID: msg.ID, Provider: "smtp", Status: FeedbackFailed,
		Code: "550", Description: "no such user", ReceivedAt: now,
	})
	require.NoError(t, err)

	got, _, err := h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusPermanentlyFailed, got.Status)
	assert.Equal(t, "no such user", got.FailureReason)
	assert.Equal(t, 0, got.RetryCount, "permanent failures spend no retry budget")
}

func TestService_FeedbackComplianceBlockFailsClosed(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)
	_, err := h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)

	err = h.svc.HandleFeedback(ctx, Feedback{
		MessageID: msg.ID, Provider: "sms", Status: FeedbackFailed,
		Code: "30004", Description: "recipient opted out", ReceivedAt: now,
	})
	require.NoError(t, err)

	got, _, err := h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusPermanentlyFailed, got.Status)

	// The refusal raises a violation in the customer's history, like an
	// evaluator block would.
	require.Len(t, h.checker.outcomes, 1)
	rec := h.checker.outcomes[0]
	assert.False(t, rec.Compliant)
	assert.Equal(t, []compliance.ViolationType{compliance.ViolationProviderBlocked}, rec.ViolationTypes)
	assert.Equal(t, values.ChannelEmail, rec.Channel)
}

func TestService_RetryBudgetExhaustion(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	ctx := context.Background()
	msg := submitEmail(t, h, 3)

	fail := func() {
		_, err := h.svc.Process(ctx, msg.ID)
		require.NoError(t, err)
		require.NoError(t, h.svc.HandleFeedback(ctx, Feedback{
			MessageID: msg.ID, Provider: "smtp", Status: FeedbackFailed,
			Code: "421", Description: "mailbox busy", ReceivedAt: now,
		}))
	}

	for i := 0; i < 3; i++ {
		fail()
		got, _, err := h.svc.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		require.Equal(t, messaging.StatusRetryScheduled, got.Status, "retry %d", i+1)
		require.Equal(t, i+1, got.RetryCount)
	}

	// Fourth failure: budget spent, the message closes and never goes back
	// in flight.
	fail()
	got, attempts, err := h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusRetriesExhausted, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Len(t, attempts, 4)

	_, err = h.svc.Process(ctx, msg.ID)
	require.NoError(t, err)
	got, _, err = h.svc.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusRetriesExhausted, got.Status)
}

func TestService_GatewayTimeoutIsRetryable(t *testing.T) {
	now := time.Now()
	h := newEngine(t, now, staticContent{})
	h.gateway.err = context.DeadlineExceeded
	msg := submitEmail(t, h, 3)

	got, err := h.svc.Process(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusRetryScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	attempts, err := h.attempts.ListByMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, messaging.ErrorClassTemporary, attempts[0].ErrorClass)
}

func TestService_Cancel(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	t.Run("blocked message cancels", func(t *testing.T) {
		h := newEngine(t, now, staticContent{})
		h.checker.verdict = blockedVerdict(now.Add(time.Hour))
		msg := submitEmail(t, h, 3)
		_, err := h.svc.Process(ctx, msg.ID)
		require.NoError(t, err)

		got, err := h.svc.Cancel(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.StatusCancelled, got.Status)
		assert.Nil(t, got.NextAllowedAt)
	})

	t.Run("in-flight message refuses cancellation", func(t *testing.T) {
		h := newEngine(t, now, staticContent{})
		msg := submitEmail(t, h, 3)
		_, err := h.svc.Process(ctx, msg.ID)
		require.NoError(t, err)

		_, err = h.svc.Cancel(ctx, msg.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))
	})
}
