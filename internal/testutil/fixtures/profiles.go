package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// ProfileBuilder builds test compliance Profile entities
type ProfileBuilder struct {
	t          *testing.T
	customerID uuid.UUID
	now        time.Time
	consents   []compliance.ConsentRecord
	history    []compliance.CommunicationRecord
	disabled   map[values.Channel]bool
}

// NewProfileBuilder creates a ProfileBuilder with defaults
func NewProfileBuilder(t *testing.T) *ProfileBuilder {
	t.Helper()
	return &ProfileBuilder{
		t:          t,
		customerID: uuid.New(),
		now:        time.Now().UTC(),
		disabled:   map[values.Channel]bool{},
	}
}

func (b *ProfileBuilder) WithCustomerID(id uuid.UUID) *ProfileBuilder {
	b.customerID = id
	return b
}

func (b *ProfileBuilder) WithClock(now time.Time) *ProfileBuilder {
	b.now = now
	return b
}

// WithConsent grants open-ended consent for the channel
func (b *ProfileBuilder) WithConsent(ch values.Channel) *ProfileBuilder {
	b.consents = append(b.consents,
		compliance.NewConsentRecord(ch, compliance.ConsentMethodWebForm, b.now, nil))
	return b
}

// WithExpiringConsent grants consent that expires after the given duration
func (b *ProfileBuilder) WithExpiringConsent(ch values.Channel, in time.Duration) *ProfileBuilder {
	expires := b.now.Add(in)
	b.consents = append(b.consents,
		compliance.NewConsentRecord(ch, compliance.ConsentMethodWebForm, b.now, &expires))
	return b
}

func (b *ProfileBuilder) WithChannelDisabled(ch values.Channel) *ProfileBuilder {
	b.disabled[ch] = true
	return b
}

// WithCompliantContact appends one compliant communication at the offset
// relative to the builder's clock.
func (b *ProfileBuilder) WithCompliantContact(ch values.Channel, strategy string, offset time.Duration) *ProfileBuilder {
	b.history = append(b.history, compliance.CommunicationRecord{
		ID:        uuid.New(),
		Channel:   ch,
		Strategy:  strategy,
		Timestamp: b.now.Add(offset),
		Compliant: true,
	})
	return b
}

// WithViolation appends one non-compliant communication at the offset
func (b *ProfileBuilder) WithViolation(ch values.Channel, vt compliance.ViolationType, offset time.Duration) *ProfileBuilder {
	b.history = append(b.history, compliance.CommunicationRecord{
		ID:             uuid.New(),
		Channel:        ch,
		Strategy:       "payment_notice",
		Timestamp:      b.now.Add(offset),
		Compliant:      false,
		ViolationTypes: []compliance.ViolationType{vt},
	})
	return b
}

// Build assembles the profile and recomputes its derived fields
func (b *ProfileBuilder) Build() *compliance.Profile {
	b.t.Helper()
	profile := compliance.NewProfile(b.customerID, b.now)
	profile.Preferences = compliance.ContactPreferences{Disabled: b.disabled}
	for _, c := range b.consents {
		profile.AppendConsent(c, b.now)
	}
	for _, rec := range b.history {
		profile.AppendRecord(rec)
	}
	return profile
}
