package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// ViolationType identifies which rule blocked a communication. Each check
// produces its own distinct kind; kinds are never shared across checks.
type ViolationType string

const (
	ViolationConsentMissing    ViolationType = "consent_missing"
	ViolationTimeRestriction   ViolationType = "time_restriction"
	ViolationFrequencyExceeded ViolationType = "frequency_exceeded"
	ViolationContentProhibited ViolationType = "content_prohibited"
	ViolationDisclosureMissing ViolationType = "disclosure_missing"
	ViolationHarassmentPattern ViolationType = "harassment_pattern"
	ViolationVoiceSpacing      ViolationType = "voice_spacing"

	// Raised by the delivery engine when a provider refuses a message on
	// compliance grounds (carrier opt-out, spam block). Not produced by the
	// evaluator; it reaches the history through the delivery feedback path.
	ViolationProviderBlocked ViolationType = "provider_blocked"
)

// Severity grades how serious a violation is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is one blocking rule failure
type Violation struct {
	Type        ViolationType  `json:"type"`
	Severity    Severity       `json:"severity"`
	Channel     values.Channel `json:"channel"`
	Description string         `json:"description"`
}

// WarningType identifies advisory findings that never block sending
type WarningType string

const (
	WarningConsentExpiring  WarningType = "consent_expiring"
	WarningApproachingLimit WarningType = "approaching_daily_limit"
)

// Warning is one advisory finding
type Warning struct {
	Type        WarningType    `json:"type"`
	Channel     values.Channel `json:"channel"`
	Description string         `json:"description"`
}

// Verdict is the immutable outcome of one rule evaluation. CanProceed is
// true iff the violation list is empty; warnings never block.
type Verdict struct {
	Compliant       bool        `json:"compliant"`
	Violations      []Violation `json:"violations"`
	Warnings        []Warning   `json:"warnings"`
	CanProceed      bool        `json:"can_proceed"`
	NextAllowedTime *time.Time  `json:"next_allowed_time,omitempty"`
	AuditEntryID    uuid.UUID   `json:"audit_entry_id"`
}

// ViolationTypes returns the distinct violation kinds in order of appearance
func (v Verdict) ViolationTypes() []ViolationType {
	types := make([]ViolationType, 0, len(v.Violations))
	seen := make(map[ViolationType]bool, len(v.Violations))
	for _, viol := range v.Violations {
		if !seen[viol.Type] {
			seen[viol.Type] = true
			types = append(types, viol.Type)
		}
	}
	return types
}

// WarningTypes returns the distinct warning kinds in order of appearance
func (v Verdict) WarningTypes() []WarningType {
	types := make([]WarningType, 0, len(v.Warnings))
	seen := make(map[WarningType]bool, len(v.Warnings))
	for _, w := range v.Warnings {
		if !seen[w.Type] {
			seen[w.Type] = true
			types = append(types, w.Type)
		}
	}
	return types
}

// HasViolation reports whether the verdict carries a violation of the kind
func (v Verdict) HasViolation(t ViolationType) bool {
	for _, viol := range v.Violations {
		if viol.Type == t {
			return true
		}
	}
	return false
}
