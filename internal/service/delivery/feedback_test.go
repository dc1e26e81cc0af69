package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		code     string
		want     messaging.ErrorClass
	}{
		{"smtp mailbox busy", "smtp", "421", messaging.ErrorClassTemporary},
		{"smtp throttled", "smtp", "429", messaging.ErrorClassRateLimit},
		{"smtp no such user", "smtp", "550", messaging.ErrorClassPermanent},
		{"smtp policy rejection", "smtp", "5.7.1", messaging.ErrorClassCompliance},
		{"smtp unlisted 4xx family", "smtp", "451", messaging.ErrorClassTemporary},
		{"smtp unlisted 5xx family", "smtp", "553", messaging.ErrorClassPermanent},
		{"sms carrier opt-out", "sms", "30004", messaging.ErrorClassCompliance},
		{"sms unreachable handset", "sms", "30003", messaging.ErrorClassTemporary},
		{"sms landline", "sms", "30006", messaging.ErrorClassPermanent},
		{"sms throttled", "sms", "20429", messaging.ErrorClassRateLimit},
		{"voice busy", "voice", "busy", messaging.ErrorClassTemporary},
		{"voice blocked", "voice", "blocked", messaging.ErrorClassCompliance},
		{"voice invalid number", "voice", "invalid", messaging.ErrorClassPermanent},
		{"unrecognized provider and code", "pigeon", "lost", messaging.ErrorClassUnknown},
		{"empty code", "smtp", "", messaging.ErrorClassUnknown},
		{"whitespace trimmed", "smtp", " 550 ", messaging.ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.provider, tt.code))
		})
	}
}

func TestErrorClassRetryability(t *testing.T) {
	assert.True(t, messaging.ErrorClassTemporary.Retryable())
	assert.True(t, messaging.ErrorClassRateLimit.Retryable())
	assert.True(t, messaging.ErrorClassUnknown.Retryable(), "unknown errors fail open on retry")
	assert.False(t, messaging.ErrorClassPermanent.Retryable())
	assert.False(t, messaging.ErrorClassCompliance.Retryable())
}
