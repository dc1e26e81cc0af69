package delivery

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

// FeedbackStatus is the provider's asynchronous delivery outcome
type FeedbackStatus string

const (
	FeedbackDelivered FeedbackStatus = "delivered"
	FeedbackFailed    FeedbackStatus = "failed"
)

// Feedback is one normalized provider callback. Providers report raw codes;
// NormalizeCode maps them onto the engine's error taxonomy so retry decisions
// never depend on which provider delivered the news.
type Feedback struct {
	MessageID   uuid.UUID      `json:"message_id"`
	Provider    string         `json:"provider"`
	Status      FeedbackStatus `json:"status"`
	Code        string         `json:"code,omitempty"`
	Description string         `json:"description,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Exact provider codes that need a classification their numeric family would
// not give them.
var providerCodes = map[string]map[string]messaging.ErrorClass{
	"smtp": {
		"421":   messaging.ErrorClassTemporary,
		"429":   messaging.ErrorClassRateLimit,
		"450":   messaging.ErrorClassTemporary,
		"452":   messaging.ErrorClassRateLimit,
		"550":   messaging.ErrorClassPermanent,
		"552":   messaging.ErrorClassPermanent,
		"554":   messaging.ErrorClassPermanent,
		"5.7.1": messaging.ErrorClassCompliance,
	},
	"sms": {
		"30003": messaging.ErrorClassTemporary,
		"30004": messaging.ErrorClassCompliance, // recipient opted out at carrier level
		"30005": messaging.ErrorClassPermanent,
		"30006": messaging.ErrorClassPermanent,
		"30007": messaging.ErrorClassCompliance,
		"20429": messaging.ErrorClassRateLimit,
	},
	"voice": {
		"busy":       messaging.ErrorClassTemporary,
		"no-answer":  messaging.ErrorClassTemporary,
		"failed":     messaging.ErrorClassUnknown,
		"blocked":    messaging.ErrorClassCompliance,
		"invalid":    messaging.ErrorClassPermanent,
		"rate-limit": messaging.ErrorClassRateLimit,
	},
}

// NormalizeCode maps a provider-specific failure code onto an error class.
// SMTP-style codes fall back to their first digit: 4xx transient, 5xx
// permanent. Everything unrecognized is unknown, which the engine retries.
func NormalizeCode(provider, code string) messaging.ErrorClass {
	code = strings.TrimSpace(code)
	if table, ok := providerCodes[provider]; ok {
		if class, ok := table[code]; ok {
			return class
		}
	}
	switch {
	case strings.HasPrefix(code, "4"):
		return messaging.ErrorClassTemporary
	case strings.HasPrefix(code, "5"):
		return messaging.ErrorClassPermanent
	default:
		return messaging.ErrorClassUnknown
	}
}
