package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
)

// Repository persists audit entries. Entries are never updated or deleted.
type Repository interface {
	Append(ctx context.Context, entry *audit.Entry) error
	Last(ctx context.Context) (*audit.Entry, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error)
}

// Recorder appends hash-chained audit entries for every evaluation outcome.
// A failed audit write is fatal for the evaluation that produced it: a
// verdict without an audit trail must not be actioned.
type Recorder struct {
	repo   Repository
	logger *zap.Logger

	// chain head, loaded lazily from the repository
	mu       sync.Mutex
	sequence int64
	lastHash string
	primed   bool
}

// NewRecorder creates a recorder over the given repository
func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one audit entry for an evaluation and returns it. The entry
// is chained onto the previous one under the recorder's lock so sequences
// are gapless and hashes commit to the true predecessor.
func (r *Recorder) Record(ctx context.Context, customerID, communicationID uuid.UUID, verdict compliance.Verdict, processingTime time.Duration) (*audit.Entry, error) {
	violations := make([]string, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		violations = append(violations, string(v.Type))
	}
	warnings := make([]string, 0, len(verdict.Warnings))
	for _, w := range verdict.Warnings {
		warnings = append(warnings, string(w.Type))
	}

	entry := audit.NewEntry(customerID, communicationID, "communication_compliance",
		violations, warnings, processingTime.Milliseconds(), time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.primed {
		if err := r.prime(ctx); err != nil {
			return nil, err
		}
	}

	entry.Chain(r.sequence+1, r.lastHash)

	if err := r.repo.Append(ctx, entry); err != nil {
		r.logger.Error("audit append failed",
			zap.String("customer_id", customerID.String()),
			zap.String("communication_id", communicationID.String()),
			zap.Error(err))
		return nil, errors.ErrAuditWriteFailed.WithCause(err)
	}

	r.sequence = entry.Sequence
	r.lastHash = entry.Hash

	r.logger.Debug("audit entry recorded",
		zap.Int64("sequence", entry.Sequence),
		zap.String("result", string(entry.Result)),
		zap.Strings("violations", violations))

	return entry, nil
}

// Trail returns the audit entries for a customer inside the window
func (r *Recorder) Trail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error) {
	entries, err := r.repo.ListByCustomer(ctx, customerID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "listing audit trail")
	}
	return entries, nil
}

func (r *Recorder) prime(ctx context.Context) error {
	last, err := r.repo.Last(ctx)
	if err != nil {
		return errors.Wrap(err, "loading audit chain head")
	}
	if last != nil {
		r.sequence = last.Sequence
		r.lastHash = last.Hash
	}
	r.primed = true
	return nil
}
