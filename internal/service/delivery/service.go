package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/metrics"
)

// SendRequest asks the engine to deliver one debtor communication
type SendRequest struct {
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	InvoiceID  uuid.UUID       `json:"invoice_id" validate:"required"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	Channel    values.Channel  `json:"channel" validate:"required"`
	Strategy   string          `json:"strategy" validate:"required"`
	Recipient  string          `json:"recipient" validate:"required"`
}

// Service is the delivery engine: it owns the message state machine and is
// the only writer of message status. Every physical send is gated by a fresh
// compliance check immediately before the gateway call, never by a cached
// verdict.
type Service struct {
	messages MessageRepository
	attempts AttemptRepository
	checker  ComplianceChecker
	profiles ProfileSource
	content  ContentProvider
	gateways map[values.Channel]Gateway
	policy   RetryPolicy
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewService creates the delivery engine. The metrics registry may be nil in
// tests.
func NewService(
	messages MessageRepository,
	attempts AttemptRepository,
	checker ComplianceChecker,
	profiles ProfileSource,
	content ContentProvider,
	gateways map[values.Channel]Gateway,
	policy RetryPolicy,
	logger *zap.Logger,
	reg *metrics.Registry,
) *Service {
	return &Service{
		messages: messages,
		attempts: attempts,
		checker:  checker,
		profiles: profiles,
		content:  content,
		gateways: gateways,
		policy:   policy,
		logger:   logger,
		metrics:  reg,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit accepts a send request and persists a pending message. Delivery
// happens asynchronously through Process.
func (s *Service) Submit(ctx context.Context, req SendRequest, maxRetries int) (*messaging.Message, error) {
	msg, err := messaging.NewMessage(req.CustomerID, req.InvoiceID, req.AmountDue,
		req.Channel, req.Strategy, req.Recipient, maxRetries, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.messages.Save(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "saving message")
	}
	return msg, nil
}

// Process drives one message through evaluation and, when the verdict
// allows, a gateway hand-off. Callers re-enter blocked and retry_scheduled
// messages once their timestamps pass.
func (s *Service) Process(ctx context.Context, messageID uuid.UUID) (*messaging.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status.IsTerminal() {
		return msg, nil
	}

	now := s.now()
	if err := msg.BeginEvaluation(now); err != nil {
		return msg, err
	}

	if msg.Body == "" {
		subject, body, err := s.content.Render(ctx, msg)
		if err != nil {
			subject, body, err = s.renderFallback(ctx, msg, err)
		}
		if err != nil {
			// Neither the strategy's content nor the fallback renders; the
			// message can never be sent.
			if ferr := msg.FailPermanently("content rendering failed: "+err.Error(), now); ferr != nil {
				return msg, ferr
			}
			s.recordTerminal(ctx, msg)
			return msg, s.messages.Update(ctx, msg)
		}
		msg.Subject = subject
		msg.Body = body
	}

	verdict, err := s.checker.CheckCommunication(ctx, msg.ID, compliance.Request{
		CustomerID: msg.CustomerID,
		Channel:    msg.Channel,
		Strategy:   msg.Strategy,
		Content:    msg.Body,
	})
	if err != nil {
		// No audited verdict, no send. Park briefly so the worker re-enters.
		retryAt := now.Add(time.Minute)
		if berr := msg.Block(retryAt, now); berr != nil {
			return msg, berr
		}
		if uerr := s.messages.Update(ctx, msg); uerr != nil {
			return msg, uerr
		}
		return msg, err
	}

	if !verdict.CanProceed {
		if err := msg.Block(*verdict.NextAllowedTime, now); err != nil {
			return msg, err
		}
		s.recordBlockedOutcome(ctx, msg, verdict, now)
		return msg, s.messages.Update(ctx, msg)
	}

	return msg, s.dispatch(ctx, msg, now)
}

// fallbackStrategy is the generic notice used when a strategy's own content
// fails to render. The attempt still goes out instead of closing the message.
const fallbackStrategy = "payment_notice"

func (s *Service) renderFallback(ctx context.Context, msg *messaging.Message, cause error) (string, string, error) {
	if msg.Strategy == fallbackStrategy {
		return "", "", cause
	}
	s.logger.Warn("content rendering failed, falling back to generic notice",
		zap.String("message_id", msg.ID.String()),
		zap.String("strategy", msg.Strategy),
		zap.Error(cause))
	alt := *msg
	alt.Strategy = fallbackStrategy
	return s.content.Render(ctx, &alt)
}

// dispatch hands an approved message to its channel's gateway
func (s *Service) dispatch(ctx context.Context, msg *messaging.Message, now time.Time) error {
	gw, ok := s.gateways[msg.Channel]
	if !ok {
		if err := msg.FailPermanently("no gateway configured for channel "+msg.Channel.String(), now); err != nil {
			return err
		}
		s.recordTerminal(ctx, msg)
		return s.messages.Update(ctx, msg)
	}

	if err := msg.MarkInFlight(now); err != nil {
		return err
	}
	if err := s.messages.Update(ctx, msg); err != nil {
		return err
	}

	attempt := messaging.NewDeliveryAttempt(msg.ID, msg.RetryCount+1, gw.Provider(), msg.Channel, now)
	if err := s.attempts.Append(ctx, attempt); err != nil {
		return errors.Wrap(err, "recording delivery attempt")
	}

	result, sendErr := gw.Send(ctx, msg)
	latency := s.now().Sub(now)
	if s.metrics != nil {
		s.metrics.RecordAttempt(ctx, float64(latency.Microseconds())/1000.0, msg.Channel.String(), sendErr == nil)
	}

	if sendErr != nil {
		class, reason := classifySendError(sendErr)
		attempt.Fail(class, reason, s.now())
		if err := s.attempts.Update(ctx, attempt); err != nil {
			s.logger.Warn("failed to close delivery attempt", zap.Error(err))
		}
		return s.handleFailure(ctx, msg, class, reason)
	}

	s.logger.Info("message handed to provider",
		zap.String("message_id", msg.ID.String()),
		zap.String("channel", msg.Channel.String()),
		zap.String("provider", gw.Provider()),
		zap.String("provider_message_id", result.ProviderMessageID))
	return nil
}

// HandleFeedback applies one asynchronous provider callback. Feedback for a
// message that already reached a terminal state is ignored, so duplicate
// provider callbacks are harmless.
func (s *Service) HandleFeedback(ctx context.Context, fb Feedback) error {
	msg, err := s.messages.GetByID(ctx, fb.MessageID)
	if err != nil {
		return err
	}
	if msg.Status.IsTerminal() {
		return nil
	}
	if msg.Status != messaging.StatusInFlight {
		s.logger.Warn("feedback for message not in flight",
			zap.String("message_id", msg.ID.String()),
			zap.String("status", string(msg.Status)))
		return nil
	}

	now := s.now()
	attempt, err := s.latestAttempt(ctx, msg.ID)
	if err != nil {
		return err
	}

	if fb.Status == FeedbackDelivered {
		if attempt != nil {
			attempt.Succeed(now)
			if err := s.attempts.Update(ctx, *attempt); err != nil {
				s.logger.Warn("failed to close delivery attempt", zap.Error(err))
			}
		}
		if err := msg.MarkDelivered(now); err != nil {
			return err
		}
		if err := s.messages.Update(ctx, msg); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordDelivered(ctx, msg.Channel.String())
		}
		return s.checker.RecordOutcome(ctx, msg.CustomerID, compliance.CommunicationRecord{
			ID:        uuid.New(),
			Channel:   msg.Channel,
			Strategy:  msg.Strategy,
			Timestamp: now,
			Compliant: true,
		})
	}

	class := NormalizeCode(fb.Provider, fb.Code)
	if attempt != nil {
		attempt.Fail(class, fb.Description, now)
		if err := s.attempts.Update(ctx, *attempt); err != nil {
			s.logger.Warn("failed to close delivery attempt", zap.Error(err))
		}
	}
	return s.handleFailure(ctx, msg, class, fb.Description)
}

// handleFailure applies the retry decision for one classified failure of an
// in-flight message.
func (s *Service) handleFailure(ctx context.Context, msg *messaging.Message, class messaging.ErrorClass, reason string) error {
	now := s.now()

	switch {
	case class == messaging.ErrorClassCompliance:
		// A provider-side refusal is a compliance block, not a plain
		// permanent failure: it lands in the customer's history so repeated
		// refusals feed the harassment-pattern check.
		s.recordProviderBlock(ctx, msg, now)
		if err := msg.FailPermanently(reason, now); err != nil {
			return err
		}
		s.recordTerminal(ctx, msg)

	case !class.Retryable():
		if err := msg.FailPermanently(reason, now); err != nil {
			return err
		}
		s.recordTerminal(ctx, msg)

	case msg.RetryCount >= msg.MaxRetries:
		if err := msg.ExhaustRetries(now); err != nil {
			return err
		}
		s.recordTerminal(ctx, msg)

	default:
		prefs := compliance.ContactPreferences{}
		if profile, err := s.profiles.Get(ctx, msg.CustomerID); err == nil {
			prefs = profile.Preferences
		}
		channel := s.policy.NextChannel(msg, prefs)
		at := now.Add(s.policy.NextDelay(msg.RetryCount))
		if err := msg.ScheduleRetry(at, channel, now); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordRetry(ctx, msg.Channel.String(), string(class))
		}
		s.logger.Info("retry scheduled",
			zap.String("message_id", msg.ID.String()),
			zap.String("class", string(class)),
			zap.String("channel", msg.Channel.String()),
			zap.Time("next_retry_at", at))
	}

	return s.messages.Update(ctx, msg)
}

// Cancel withdraws a message that has not yet been handed to a provider
func (s *Service) Cancel(ctx context.Context, messageID uuid.UUID) (*messaging.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.Cancel(s.now()); err != nil {
		return nil, err
	}
	return msg, s.messages.Update(ctx, msg)
}

// GetMessage returns a message with its attempt history
func (s *Service) GetMessage(ctx context.Context, messageID uuid.UUID) (*messaging.Message, []messaging.DeliveryAttempt, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.attempts.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	return msg, attempts, nil
}

func (s *Service) latestAttempt(ctx context.Context, messageID uuid.UUID) (*messaging.DeliveryAttempt, error) {
	attempts, err := s.attempts.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return &attempts[len(attempts)-1], nil
}

// recordBlockedOutcome appends the non-compliant record so repeated blocks
// feed the harassment-pattern check; it never counts toward contact budgets.
func (s *Service) recordBlockedOutcome(ctx context.Context, msg *messaging.Message, verdict *compliance.Verdict, now time.Time) {
	err := s.checker.RecordOutcome(ctx, msg.CustomerID, compliance.CommunicationRecord{
		ID:             uuid.New(),
		Channel:        msg.Channel,
		Strategy:       msg.Strategy,
		Timestamp:      now,
		Compliant:      false,
		ViolationTypes: verdict.ViolationTypes(),
		WarningTypes:   verdict.WarningTypes(),
	})
	if err != nil {
		s.logger.Warn("failed to record blocked outcome",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

// recordProviderBlock lands a provider-side compliance refusal in the
// customer's history, the same way an evaluator block does.
func (s *Service) recordProviderBlock(ctx context.Context, msg *messaging.Message, now time.Time) {
	err := s.checker.RecordOutcome(ctx, msg.CustomerID, compliance.CommunicationRecord{
		ID:             uuid.New(),
		Channel:        msg.Channel,
		Strategy:       msg.Strategy,
		Timestamp:      now,
		Compliant:      false,
		ViolationTypes: []compliance.ViolationType{compliance.ViolationProviderBlocked},
	})
	if err != nil {
		s.logger.Warn("failed to record provider block",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
	}
}

func (s *Service) recordTerminal(ctx context.Context, msg *messaging.Message) {
	if s.metrics != nil {
		s.metrics.RecordTerminalFailure(ctx, msg.Channel.String(), string(msg.Status))
	}
	s.logger.Warn("message closed without delivery",
		zap.String("message_id", msg.ID.String()),
		zap.String("status", string(msg.Status)),
		zap.String("reason", msg.FailureReason))
}
