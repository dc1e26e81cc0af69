package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// ErrorClass is the normalized provider error classification. Retryability
// is decided here, once, rather than per provider: unknown errors fail open
// on retry, compliance blocks fail closed.
type ErrorClass string

const (
	ErrorClassTemporary  ErrorClass = "temporary"
	ErrorClassRateLimit  ErrorClass = "rate_limit"
	ErrorClassPermanent  ErrorClass = "permanent"
	ErrorClassCompliance ErrorClass = "compliance"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// Retryable reports whether a failure of this class may be retried
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassTemporary, ErrorClassRateLimit, ErrorClassUnknown:
		return true
	default:
		return false
	}
}

// AttemptStatus tracks one physical send
type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "started"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// DeliveryAttempt records one physical send. Attempts are strictly ordered
// by AttemptNumber within a message.
type DeliveryAttempt struct {
	ID            uuid.UUID      `json:"id"`
	MessageID     uuid.UUID      `json:"message_id"`
	AttemptNumber int            `json:"attempt_number"`
	Provider      string         `json:"provider"`
	Channel       values.Channel `json:"channel"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Status        AttemptStatus  `json:"status"`
	ErrorClass    ErrorClass     `json:"error_class,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// NewDeliveryAttempt opens an attempt for a message hand-off to the gateway
func NewDeliveryAttempt(messageID uuid.UUID, attemptNumber int, provider string, channel values.Channel, startedAt time.Time) DeliveryAttempt {
	return DeliveryAttempt{
		ID:            uuid.New(),
		MessageID:     messageID,
		AttemptNumber: attemptNumber,
		Provider:      provider,
		Channel:       channel,
		StartedAt:     startedAt,
		Status:        AttemptStarted,
	}
}

// Succeed closes the attempt as delivered
func (a *DeliveryAttempt) Succeed(at time.Time) {
	a.Status = AttemptSucceeded
	a.CompletedAt = &at
}

// Fail closes the attempt with a classified error
func (a *DeliveryAttempt) Fail(class ErrorClass, message string, at time.Time) {
	a.Status = AttemptFailed
	a.ErrorClass = class
	a.ErrorMessage = message
	a.CompletedAt = &at
}
