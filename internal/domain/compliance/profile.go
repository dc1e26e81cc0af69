package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// CommunicationRecord is appended once per attempted communication and is the
// sole basis of frequency counting. Counts are always derived by filtering
// these records by window and channel, never kept as separate counters.
type CommunicationRecord struct {
	ID               uuid.UUID       `json:"id"`
	Channel          values.Channel  `json:"channel"`
	Strategy         string          `json:"strategy"`
	Timestamp        time.Time       `json:"timestamp"`
	Compliant        bool            `json:"compliant"`
	ViolationTypes   []ViolationType `json:"violation_types,omitempty"`
	WarningTypes     []WarningType   `json:"warning_types,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

// ContactPreferences holds the customer's channel opt-ins. A channel absent
// from the map is treated as enabled.
type ContactPreferences struct {
	Disabled map[values.Channel]bool `json:"disabled,omitempty"`
}

// ChannelEnabled reports whether the customer accepts contact on the channel
func (p ContactPreferences) ChannelEnabled(ch values.Channel) bool {
	return !p.Disabled[ch]
}

// Profile accumulates everything needed to evaluate rules for one customer:
// consent records, communication history, and past violations. It is created
// lazily on first evaluation and never hard-deleted (regulatory retention).
type Profile struct {
	CustomerID  uuid.UUID          `json:"customer_id"`
	Preferences ContactPreferences `json:"preferences"`

	Consents []ConsentRecord       `json:"consents"`
	History  []CommunicationRecord `json:"history"`

	// Derived fields, recomputed on every append
	RiskScore       int `json:"risk_score"`
	EscalationLevel int `json:"escalation_level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile creates an empty profile with default preferences
func NewProfile(customerID uuid.UUID, now time.Time) *Profile {
	return &Profile{
		CustomerID:  customerID,
		Preferences: ContactPreferences{Disabled: map[values.Channel]bool{}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidConsent returns the most recent valid consent record for the channel,
// or nil when none exists.
func (p *Profile) ValidConsent(ch values.Channel, now time.Time) *ConsentRecord {
	for i := len(p.Consents) - 1; i >= 0; i-- {
		c := p.Consents[i]
		if c.Channel == ch && c.IsValid(now) {
			return &p.Consents[i]
		}
	}
	return nil
}

// CountChannelSince counts compliant communications on a channel in
// [since, now). Non-compliant records never count against the contact budget.
func (p *Profile) CountChannelSince(ch values.Channel, since, now time.Time) int {
	count := 0
	for _, rec := range p.History {
		if rec.Channel != ch || !rec.Compliant {
			continue
		}
		if !rec.Timestamp.Before(since) && rec.Timestamp.Before(now) {
			count++
		}
	}
	return count
}

// CountAllSince counts compliant communications across all channels in
// [since, now).
func (p *Profile) CountAllSince(since, now time.Time) int {
	count := 0
	for _, rec := range p.History {
		if !rec.Compliant {
			continue
		}
		if !rec.Timestamp.Before(since) && rec.Timestamp.Before(now) {
			count++
		}
	}
	return count
}

// LastContact returns the timestamp of the most recent compliant
// communication on the channel, or nil when there has been none.
func (p *Profile) LastContact(ch values.Channel) *time.Time {
	var last *time.Time
	for i := range p.History {
		rec := p.History[i]
		if rec.Channel != ch || !rec.Compliant {
			continue
		}
		if last == nil || rec.Timestamp.After(*last) {
			last = &p.History[i].Timestamp
		}
	}
	return last
}

// AppendRecord appends a communication record and refreshes the derived
// risk score and escalation level. Appends are monotonic; records are never
// updated in place.
func (p *Profile) AppendRecord(rec CommunicationRecord) {
	p.History = append(p.History, rec)
	p.UpdatedAt = rec.Timestamp
	p.recomputeDerived()
}

// AppendConsent appends a consent record
func (p *Profile) AppendConsent(c ConsentRecord, now time.Time) {
	p.Consents = append(p.Consents, c)
	p.UpdatedAt = now
}

// Refresh recomputes the derived fields from the loaded history. Storage
// layers call this after assembling a profile; the derived fields are never
// persisted.
func (p *Profile) Refresh() {
	p.recomputeDerived()
}

// ViolationCount counts historical records that carried violations
func (p *Profile) ViolationCount() int {
	count := 0
	for _, rec := range p.History {
		if len(rec.ViolationTypes) > 0 {
			count++
		}
	}
	return count
}

// escalationRank orders strategies from gentle reminder to final demand.
// Unknown strategies rank at zero.
var escalationRank = map[string]int{
	"friendly_reminder": 1,
	"payment_notice":    2,
	"urgent_notice":     3,
	"final_demand":      4,
	"pre_legal":         5,
}

func (p *Profile) recomputeDerived() {
	level := 0
	for _, rec := range p.History {
		if !rec.Compliant {
			continue
		}
		if r := escalationRank[rec.Strategy]; r > level {
			level = r
		}
	}
	p.EscalationLevel = level

	// Risk score blends violation density with escalation progress.
	score := 0
	if n := len(p.History); n > 0 {
		score = (p.ViolationCount() * 100) / n
	}
	score += p.EscalationLevel * 8
	if score > 100 {
		score = 100
	}
	p.RiskScore = score
}
