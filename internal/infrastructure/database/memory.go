package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// The in-memory repositories back local development without Postgres and
// keep the same semantics as the SQL implementations: lazy profile creation,
// append-only consent and history, full-state message updates.

// MemoryProfileRepository is an in-memory compliance profile store
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*compliance.Profile
	now      func() time.Time
}

// NewMemoryProfileRepository creates an empty in-memory profile store
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{
		profiles: make(map[uuid.UUID]*compliance.Profile),
		now:      time.Now,
	}
}

func (r *MemoryProfileRepository) Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[customerID]
	if !ok {
		p = compliance.NewProfile(customerID, r.now())
		r.profiles[customerID] = p
	}
	clone := *p
	clone.Consents = append([]compliance.ConsentRecord(nil), p.Consents...)
	clone.History = append([]compliance.CommunicationRecord(nil), p.History...)
	return &clone, nil
}

func (r *MemoryProfileRepository) AppendRecord(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[customerID]
	if !ok {
		p = compliance.NewProfile(customerID, r.now())
		r.profiles[customerID] = p
	}
	p.AppendRecord(rec)
	return nil
}

func (r *MemoryProfileRepository) AppendConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[customerID]
	if !ok {
		p = compliance.NewProfile(customerID, r.now())
		r.profiles[customerID] = p
	}
	p.AppendConsent(consent, r.now())
	return nil
}

func (r *MemoryProfileRepository) SetPreferences(ctx context.Context, customerID uuid.UUID, prefs compliance.ContactPreferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[customerID]
	if !ok {
		p = compliance.NewProfile(customerID, r.now())
		r.profiles[customerID] = p
	}
	p.Preferences = prefs
	return nil
}

// MemoryAuditRepository is an in-memory append-only audit log
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

// NewMemoryAuditRepository creates an empty in-memory audit log
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.entries); n > 0 && entry.Sequence != r.entries[n-1].Sequence+1 {
		return errors.NewConflictError("audit sequence gap")
	}
	clone := *entry
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *MemoryAuditRepository) Last(ctx context.Context) (*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return nil, nil
	}
	clone := *r.entries[len(r.entries)-1]
	return &clone, nil
}

func (r *MemoryAuditRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.Entry
	for _, e := range r.entries {
		if e.CustomerID != customerID {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

// MemoryMessageRepository is an in-memory message store
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*messaging.Message
}

// NewMemoryMessageRepository creates an empty in-memory message store
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{byID: make(map[uuid.UUID]*messaging.Message)}
}

func (r *MemoryMessageRepository) Save(ctx context.Context, msg *messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := cloneMessage(msg)
	r.byID[msg.ID] = clone
	return nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*messaging.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.byID[id]
	if !ok {
		return nil, errors.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (r *MemoryMessageRepository) Update(ctx context.Context, msg *messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; !ok {
		return errors.ErrMessageNotFound
	}
	r.byID[msg.ID] = cloneMessage(msg)
	return nil
}

func (r *MemoryMessageRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*messaging.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []*messaging.Message
	for _, msg := range r.byID {
		switch msg.Status {
		case messaging.StatusPending:
			due = append(due, cloneMessage(msg))
		case messaging.StatusBlocked:
			if msg.NextAllowedAt != nil && !msg.NextAllowedAt.After(before) {
				due = append(due, cloneMessage(msg))
			}
		case messaging.StatusRetryScheduled:
			if msg.NextRetryAt != nil && !msg.NextRetryAt.After(before) {
				due = append(due, cloneMessage(msg))
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func cloneMessage(msg *messaging.Message) *messaging.Message {
	clone := *msg
	clone.AttemptedChannels = append([]values.Channel(nil), msg.AttemptedChannels...)
	if msg.NextRetryAt != nil {
		t := *msg.NextRetryAt
		clone.NextRetryAt = &t
	}
	if msg.NextAllowedAt != nil {
		t := *msg.NextAllowedAt
		clone.NextAllowedAt = &t
	}
	return &clone
}

// MemoryAttemptRepository is an in-memory delivery attempt log
type MemoryAttemptRepository struct {
	mu    sync.RWMutex
	items []messaging.DeliveryAttempt
}

// NewMemoryAttemptRepository creates an empty in-memory attempt log
func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{}
}

func (r *MemoryAttemptRepository) Append(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, attempt)
	return nil
}

func (r *MemoryAttemptRepository) Update(ctx context.Context, attempt messaging.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == attempt.ID {
			r.items[i] = attempt
			return nil
		}
	}
	return errors.NewNotFoundError("delivery attempt")
}

func (r *MemoryAttemptRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]messaging.DeliveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []messaging.DeliveryAttempt
	for _, a := range r.items {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}
