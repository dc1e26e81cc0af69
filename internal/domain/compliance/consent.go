package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// ConsentMethod indicates how consent was obtained
type ConsentMethod string

const (
	ConsentMethodWebForm   ConsentMethod = "web_form"
	ConsentMethodRecording ConsentMethod = "voice_recording"
	ConsentMethodSMSReply  ConsentMethod = "sms_reply"
	ConsentMethodWritten   ConsentMethod = "written"
	ConsentMethodImport    ConsentMethod = "import"
)

// ConsentRecord captures a customer's opt-in or opt-out for one channel.
// Records are append-only: revocation and expiry mark the record invalid but
// never remove it, so the audit trail stays complete.
type ConsentRecord struct {
	ID        uuid.UUID      `json:"id"`
	Channel   values.Channel `json:"channel"`
	Granted   bool           `json:"granted"`
	Method    ConsentMethod  `json:"method"`
	GrantedAt time.Time      `json:"granted_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	RevokedAt *time.Time     `json:"revoked_at,omitempty"`
}

// NewConsentRecord creates a granted consent record for a channel
func NewConsentRecord(channel values.Channel, method ConsentMethod, grantedAt time.Time, expiresAt *time.Time) ConsentRecord {
	return ConsentRecord{
		ID:        uuid.New(),
		Channel:   channel,
		Granted:   true,
		Method:    method,
		GrantedAt: grantedAt,
		ExpiresAt: expiresAt,
	}
}

// Revoke marks the consent as revoked at the given time
func (c *ConsentRecord) Revoke(at time.Time) {
	c.RevokedAt = &at
}

// IsValid reports whether this record constitutes valid consent at the given
// instant: granted, not revoked, and not past its expiry.
func (c ConsentRecord) IsValid(now time.Time) bool {
	if !c.Granted || c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// ExpiresWithin reports whether a valid record expires inside the window
func (c ConsentRecord) ExpiresWithin(now time.Time, window time.Duration) bool {
	if !c.IsValid(now) || c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now.Add(window))
}
