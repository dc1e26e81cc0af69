package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
)

// ProfileRepository stores customer compliance profiles. Get never errors on
// a missing customer: an empty profile with default preferences is created
// lazily on first evaluation. All appends are monotonic.
type ProfileRepository interface {
	Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error)
	AppendRecord(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error
	AppendConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error
}

// AuditRecorder persists the outcome of every evaluation
type AuditRecorder interface {
	Record(ctx context.Context, customerID, communicationID uuid.UUID, verdict compliance.Verdict, processingTime time.Duration) (*audit.Entry, error)
	Trail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error)
}

// RuleSetProvider returns the active rule-set snapshot. Implementations must
// return a value safe for concurrent reads; the engine never mutates it.
type RuleSetProvider interface {
	Current() compliance.RuleSet
}

// StaticRuleSet is a RuleSetProvider over one fixed snapshot
type StaticRuleSet struct {
	RuleSet compliance.RuleSet
}

func (s StaticRuleSet) Current() compliance.RuleSet {
	return s.RuleSet
}
