package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/metrics"
)

// Service is the effectful shell around the pure rule evaluator. It owns
// the per-customer serialization scope: for one customer, reading the
// profile, evaluating, and writing the audit entry happen as one unit, so
// frequency counts are never read mid-update.
type Service struct {
	profiles ProfileRepository
	recorder AuditRecorder
	rules    RuleSetProvider
	locks    *customerLocks
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewService creates the compliance service. The metrics registry may be
// nil in tests.
func NewService(profiles ProfileRepository, recorder AuditRecorder, rules RuleSetProvider, logger *zap.Logger, reg *metrics.Registry) *Service {
	return &Service{
		profiles: profiles,
		recorder: recorder,
		rules:    rules,
		locks:    newCustomerLocks(),
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

// CheckCommunication evaluates one candidate communication and records the
// outcome. The returned verdict carries the audit entry id; if the audit
// write fails the verdict is withheld entirely.
func (s *Service) CheckCommunication(ctx context.Context, communicationID uuid.UUID, req compliance.Request) (*compliance.Verdict, error) {
	if req.CustomerID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_CUSTOMER", "customer ID is required")
	}
	if !req.Channel.IsValid() {
		return nil, errors.NewValidationError("INVALID_CHANNEL", "channel must be one of email, sms, voice")
	}
	if req.Strategy == "" {
		return nil, errors.NewValidationError("MISSING_STRATEGY", "strategy is required")
	}

	unlock := s.locks.Lock(req.CustomerID)
	defer unlock()

	profile, err := s.profiles.Get(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "loading compliance profile")
	}

	rs := s.rules.Current()
	start := s.now()
	verdict := compliance.Evaluate(req, profile, rs, start)
	elapsed := s.now().Sub(start)

	entry, err := s.recorder.Record(ctx, req.CustomerID, communicationID, verdict, elapsed)
	if err != nil {
		// A verdict without an audit trail must not be actioned.
		return nil, err
	}
	verdict.AuditEntryID = entry.ID

	s.observe(ctx, req, verdict, elapsed)

	if !verdict.CanProceed {
		s.logger.Info("communication blocked",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("channel", req.Channel.String()),
			zap.Any("violations", verdict.ViolationTypes()),
			zap.Timep("next_allowed", verdict.NextAllowedTime))
	}

	return &verdict, nil
}

// RecordOutcome appends a communication record to the customer's history.
// Called by the delivery engine after a confirmed delivery; blocked or
// failed attempts never count against the customer's contact budget.
func (s *Service) RecordOutcome(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	if err := s.profiles.AppendRecord(ctx, customerID, rec); err != nil {
		return errors.Wrap(err, "appending communication record")
	}
	return nil
}

// GrantConsent appends a consent record for the customer
func (s *Service) GrantConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	if err := s.profiles.AppendConsent(ctx, customerID, consent); err != nil {
		return errors.Wrap(err, "appending consent record")
	}
	return nil
}

// NextAllowedTime answers the read-only scheduling query: the earliest time
// a communication on the channel could proceed for this customer. Content
// checks are skipped because no content exists yet.
func (s *Service) NextAllowedTime(ctx context.Context, customerID uuid.UUID, channel values.Channel) (time.Time, error) {
	if !channel.IsValid() {
		return time.Time{}, errors.NewValidationError("INVALID_CHANNEL", "channel must be one of email, sms, voice")
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	profile, err := s.profiles.Get(ctx, customerID)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "loading compliance profile")
	}

	now := s.now()
	verdict := compliance.Evaluate(compliance.Request{
		CustomerID:        customerID,
		Channel:           channel,
		Strategy:          "schedule_probe",
		SkipContentChecks: true,
	}, profile, s.rules.Current(), now)

	if verdict.CanProceed {
		return now, nil
	}
	if verdict.NextAllowedTime != nil {
		return *verdict.NextAllowedTime, nil
	}
	// blocked by a non-timing constraint (e.g. consent); no wait clears it
	return time.Time{}, errors.NewComplianceError(string(compliance.ViolationConsentMissing),
		"communication blocked by a constraint that does not clear with time")
}

// AuditTrail returns the customer's audit entries inside the window
func (s *Service) AuditTrail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error) {
	return s.recorder.Trail(ctx, customerID, from, to)
}

func (s *Service) observe(ctx context.Context, req compliance.Request, verdict compliance.Verdict, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordEvaluation(ctx, float64(elapsed.Microseconds())/1000.0, req.Channel.String(), verdict.CanProceed)
	for _, v := range verdict.Violations {
		s.metrics.RecordViolation(ctx, string(v.Type), req.Channel.String())
	}
	for _, w := range verdict.Warnings {
		s.metrics.RecordWarning(ctx, string(w.Type), req.Channel.String())
	}
}
