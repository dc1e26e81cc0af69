package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// Status is a communication message's lifecycle state
type Status string

const (
	StatusPending           Status = "pending"
	StatusEvaluating        Status = "evaluating"
	StatusBlocked           Status = "blocked"
	StatusInFlight          Status = "in_flight"
	StatusDelivered         Status = "delivered"
	StatusRetryScheduled    Status = "retry_scheduled"
	StatusPermanentlyFailed Status = "permanently_failed"
	StatusRetriesExhausted  Status = "retries_exhausted"
	StatusCancelled         Status = "cancelled"
)

// IsTerminal reports whether no further scheduling may happen
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusPermanentlyFailed, StatusRetriesExhausted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Message is one debtor communication owned by the delivery state machine.
// Status transitions are the only mutations; fields that are meaningful for
// a single state only (NextAllowedAt for blocked, NextRetryAt for
// retry_scheduled) are cleared when that state is left, so a message never
// carries stale per-state data.
type Message struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	InvoiceID  uuid.UUID       `json:"invoice_id"`
	AmountDue  decimal.Decimal `json:"amount_due"`

	Channel   values.Channel `json:"channel"`
	Strategy  string         `json:"strategy"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body,omitempty"`

	Status        Status     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`

	// Channels already used in the current retry cycle
	AttemptedChannels []values.Channel `json:"attempted_channels,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMessage creates a pending message for a send request
func NewMessage(customerID, invoiceID uuid.UUID, amountDue decimal.Decimal, channel values.Channel, strategy, recipient string, maxRetries int, now time.Time) (*Message, error) {
	if customerID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_CUSTOMER", "customer ID is required")
	}
	if !channel.IsValid() {
		return nil, errors.NewValidationError("INVALID_CHANNEL", "channel must be one of email, sms, voice")
	}
	if strategy == "" {
		return nil, errors.NewValidationError("MISSING_STRATEGY", "strategy is required")
	}
	if maxRetries < 0 {
		return nil, errors.NewValidationError("INVALID_RETRIES", "max retries cannot be negative")
	}

	return &Message{
		ID:         uuid.New(),
		CustomerID: customerID,
		InvoiceID:  invoiceID,
		AmountDue:  amountDue,
		Channel:    channel,
		Strategy:   strategy,
		Recipient:  recipient,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// BeginEvaluation moves the message into evaluating. Valid from pending,
// blocked (once the park expires) and retry_scheduled (once the timer fires).
func (m *Message) BeginEvaluation(now time.Time) error {
	switch m.Status {
	case StatusPending, StatusBlocked, StatusRetryScheduled:
		m.Status = StatusEvaluating
		m.NextAllowedAt = nil
		m.NextRetryAt = nil
		m.UpdatedAt = now
		return nil
	default:
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot begin evaluation from status "+string(m.Status))
	}
}

// Block parks the message until the compliance verdict's next allowed time
func (m *Message) Block(nextAllowed time.Time, now time.Time) error {
	if m.Status != StatusEvaluating {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot block from status "+string(m.Status))
	}
	m.Status = StatusBlocked
	m.NextAllowedAt = &nextAllowed
	m.UpdatedAt = now
	return nil
}

// MarkInFlight hands the message to the gateway and records the channel as
// attempted for the current retry cycle.
func (m *Message) MarkInFlight(now time.Time) error {
	if m.Status != StatusEvaluating {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot go in flight from status "+string(m.Status))
	}
	m.Status = StatusInFlight
	m.AttemptedChannels = append(m.AttemptedChannels, m.Channel)
	m.UpdatedAt = now
	return nil
}

// MarkDelivered closes the message on provider-confirmed success
func (m *Message) MarkDelivered(now time.Time) error {
	if m.Status != StatusInFlight {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot deliver from status "+string(m.Status))
	}
	m.Status = StatusDelivered
	m.UpdatedAt = now
	return nil
}

// ScheduleRetry moves an in-flight message to retry_scheduled after a
// retryable failure, switching channel when the scheduler picked a fallback.
func (m *Message) ScheduleRetry(at time.Time, channel values.Channel, now time.Time) error {
	if m.Status != StatusInFlight {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot schedule retry from status "+string(m.Status))
	}
	if m.RetryCount >= m.MaxRetries {
		return errors.NewBusinessError("RETRIES_EXHAUSTED",
			"retry budget exhausted; message must transition to retries_exhausted")
	}
	m.Status = StatusRetryScheduled
	m.RetryCount++
	m.NextRetryAt = &at
	m.Channel = channel
	m.UpdatedAt = now
	return nil
}

// FailPermanently closes the message on a non-retryable error
func (m *Message) FailPermanently(reason string, now time.Time) error {
	if m.Status != StatusInFlight && m.Status != StatusEvaluating {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot fail permanently from status "+string(m.Status))
	}
	m.Status = StatusPermanentlyFailed
	m.FailureReason = reason
	m.UpdatedAt = now
	return nil
}

// ExhaustRetries closes the message once the retry budget is spent. A valid
// terminal state, not an error: operators still need visibility into it.
func (m *Message) ExhaustRetries(now time.Time) error {
	if m.Status != StatusInFlight {
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot exhaust retries from status "+string(m.Status))
	}
	if m.RetryCount < m.MaxRetries {
		return errors.NewBusinessError("RETRIES_REMAINING",
			"retry budget not yet exhausted")
	}
	m.Status = StatusRetriesExhausted
	m.UpdatedAt = now
	return nil
}

// Cancel withdraws a message before its next gateway call. Only blocked and
// retry_scheduled messages can be cancelled; in-flight provider calls are
// never force-aborted.
func (m *Message) Cancel(now time.Time) error {
	switch m.Status {
	case StatusBlocked, StatusRetryScheduled, StatusPending:
		m.Status = StatusCancelled
		m.NextAllowedAt = nil
		m.NextRetryAt = nil
		m.UpdatedAt = now
		return nil
	default:
		return errors.NewBusinessError("INVALID_TRANSITION",
			"cannot cancel from status "+string(m.Status))
	}
}

// HasAttempted reports whether the channel was already used in this cycle
func (m *Message) HasAttempted(ch values.Channel) bool {
	for _, attempted := range m.AttemptedChannels {
		if attempted == ch {
			return true
		}
	}
	return false
}
