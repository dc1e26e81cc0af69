package compliance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainaudit "github.com/collectwise/outreach-backend/internal/domain/audit"
	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	compliancesvc "github.com/collectwise/outreach-backend/internal/service/compliance"
	"github.com/collectwise/outreach-backend/internal/testutil/fixtures"
)

const compliantBody = "This is an attempt to collect a debt. You have the right to dispute it."

type memProfiles struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*compliance.Profile
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: make(map[uuid.UUID]*compliance.Profile)}
}

func (m *memProfiles) Get(ctx context.Context, customerID uuid.UUID) (*compliance.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[customerID]
	if !ok {
		p = compliance.NewProfile(customerID, time.Now())
		m.profiles[customerID] = p
	}
	return p, nil
}

func (m *memProfiles) AppendRecord(ctx context.Context, customerID uuid.UUID, rec compliance.CommunicationRecord) error {
	p, _ := m.Get(ctx, customerID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.AppendRecord(rec)
	return nil
}

func (m *memProfiles) AppendConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	p, _ := m.Get(ctx, customerID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.AppendConsent(consent, time.Now())
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []*domainaudit.Entry
	failing bool
}

func (m *memRecorder) Record(ctx context.Context, customerID, communicationID uuid.UUID, verdict compliance.Verdict, processing time.Duration) (*domainaudit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.ErrAuditWriteFailed
	}
	violations := make([]string, 0)
	for _, v := range verdict.Violations {
		violations = append(violations, string(v.Type))
	}
	e := domainaudit.NewEntry(customerID, communicationID, "communication_compliance", violations, nil, processing.Milliseconds(), time.Now())
	e.Chain(int64(len(m.entries)+1), "")
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memRecorder) Trail(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*domainaudit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domainaudit.Entry
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newService(t *testing.T, now time.Time) (*compliancesvc.Service, *memProfiles, *memRecorder) {
	t.Helper()
	profiles := newMemProfiles()
	recorder := &memRecorder{}
	svc := compliancesvc.NewService(profiles, recorder,
		compliancesvc.StaticRuleSet{RuleSet: compliance.DefaultRuleSet()},
		zap.NewNop(), nil).WithClock(func() time.Time { return now })
	return svc, profiles, recorder
}

func businessHours(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2026, time.March, 11, 14, 0, 0, 0, loc)
}

func TestService_CheckCommunication(t *testing.T) {
	now := businessHours(t)
	ctx := context.Background()

	t.Run("allowed email produces PASS audit entry", func(t *testing.T) {
		svc, _, recorder := newService(t, now)
		customer := uuid.New()

		verdict, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			CustomerID: customer,
			Channel:    values.ChannelEmail,
			Strategy:   "friendly_reminder",
			Content:    compliantBody,
		})
		require.NoError(t, err)
		assert.True(t, verdict.CanProceed)
		assert.NotEqual(t, uuid.Nil, verdict.AuditEntryID)
		require.Len(t, recorder.entries, 1)
		assert.Equal(t, domainaudit.ResultPass, recorder.entries[0].Result)
	})

	t.Run("blocked sms is audited as FAIL", func(t *testing.T) {
		svc, _, recorder := newService(t, now)

		verdict, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			CustomerID: uuid.New(),
			Channel:    values.ChannelSMS,
			Strategy:   "friendly_reminder",
			Content:    compliantBody,
		})
		require.NoError(t, err)
		assert.False(t, verdict.CanProceed)
		require.Len(t, recorder.entries, 1)
		assert.Equal(t, domainaudit.ResultFail, recorder.entries[0].Result)
		assert.Contains(t, recorder.entries[0].Violations, "consent_missing")
	})

	t.Run("audit write failure withholds the verdict", func(t *testing.T) {
		svc, _, recorder := newService(t, now)
		recorder.failing = true

		verdict, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			CustomerID: uuid.New(),
			Channel:    values.ChannelEmail,
			Strategy:   "friendly_reminder",
			Content:    compliantBody,
		})
		require.Error(t, err)
		assert.Nil(t, verdict)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	})

	t.Run("malformed request rejected before evaluation", func(t *testing.T) {
		svc, _, recorder := newService(t, now)

		_, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			Channel:  values.ChannelEmail,
			Strategy: "friendly_reminder",
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		assert.Empty(t, recorder.entries)
	})
}

func TestService_RecordOutcomeDrivesFrequency(t *testing.T) {
	now := businessHours(t)
	ctx := context.Background()
	svc, _, _ := newService(t, now)
	customer := uuid.New()
	limit := compliance.DefaultRuleSet().DailyLimits[values.ChannelEmail]

	req := compliance.Request{
		CustomerID: customer,
		Channel:    values.ChannelEmail,
		Strategy:   "friendly_reminder",
		Content:    compliantBody,
	}

	for i := 0; i < limit; i++ {
		verdict, err := svc.CheckCommunication(ctx, uuid.New(), req)
		require.NoError(t, err)
		require.True(t, verdict.CanProceed, "send %d should proceed", i+1)

		require.NoError(t, svc.RecordOutcome(ctx, customer, compliance.CommunicationRecord{
			ID:        uuid.New(),
			Channel:   values.ChannelEmail,
			Strategy:  "friendly_reminder",
			Timestamp: now.Add(-time.Duration(limit-i) * time.Minute),
			Compliant: true,
		}))
	}

	verdict, err := svc.CheckCommunication(ctx, uuid.New(), req)
	require.NoError(t, err)
	assert.False(t, verdict.CanProceed)
	assert.True(t, verdict.HasViolation(compliance.ViolationFrequencyExceeded))
}

func TestService_SeededHistory(t *testing.T) {
	now := businessHours(t)
	ctx := context.Background()

	t.Run("same-day total across channels flags harassment", func(t *testing.T) {
		svc, profiles, _ := newService(t, now)
		customer := uuid.New()

		profiles.profiles[customer] = fixtures.NewProfileBuilder(t).
			WithCustomerID(customer).
			WithClock(now).
			WithConsent(values.ChannelSMS).
			WithConsent(values.ChannelVoice).
			WithCompliantContact(values.ChannelEmail, "friendly_reminder", -5*time.Hour).
			WithCompliantContact(values.ChannelEmail, "payment_notice", -4*time.Hour).
			WithCompliantContact(values.ChannelSMS, "payment_notice", -3*time.Hour).
			WithCompliantContact(values.ChannelSMS, "payment_notice", -2*time.Hour).
			WithCompliantContact(values.ChannelVoice, "payment_notice", -5*time.Hour).
			Build()

		verdict, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			CustomerID: customer,
			Channel:    values.ChannelEmail,
			Strategy:   "urgent_notice",
			Content:    compliantBody,
		})
		require.NoError(t, err)
		assert.False(t, verdict.CanProceed)
		assert.True(t, verdict.HasViolation(compliance.ViolationHarassmentPattern))
	})

	t.Run("voice attempts too close together are spaced", func(t *testing.T) {
		svc, profiles, _ := newService(t, now)
		customer := uuid.New()

		profiles.profiles[customer] = fixtures.NewProfileBuilder(t).
			WithCustomerID(customer).
			WithClock(now).
			WithConsent(values.ChannelVoice).
			WithCompliantContact(values.ChannelVoice, "payment_notice", -time.Hour).
			Build()

		verdict, err := svc.CheckCommunication(ctx, uuid.New(), compliance.Request{
			CustomerID: customer,
			Channel:    values.ChannelVoice,
			Strategy:   "payment_notice",
			Content:    compliantBody,
		})
		require.NoError(t, err)
		assert.False(t, verdict.CanProceed)
		assert.True(t, verdict.HasViolation(compliance.ViolationVoiceSpacing))
	})
}

func TestService_NextAllowedTime(t *testing.T) {
	ctx := context.Background()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	t.Run("inside window with quota returns now", func(t *testing.T) {
		now := businessHours(t)
		svc, _, _ := newService(t, now)

		got, err := svc.NextAllowedTime(ctx, uuid.New(), values.ChannelEmail)
		require.NoError(t, err)
		assert.True(t, got.Equal(now))
	})

	t.Run("outside window returns next window start", func(t *testing.T) {
		late := time.Date(2026, time.March, 11, 23, 0, 0, 0, loc)
		svc, _, _ := newService(t, late)

		got, err := svc.NextAllowedTime(ctx, uuid.New(), values.ChannelEmail)
		require.NoError(t, err)
		expected := time.Date(2026, time.March, 12, 8, 0, 0, 0, loc)
		assert.True(t, got.Equal(expected), "got %s", got)
	})

	t.Run("missing consent does not clear with time", func(t *testing.T) {
		now := businessHours(t)
		svc, _, _ := newService(t, now)

		_, err := svc.NextAllowedTime(ctx, uuid.New(), values.ChannelSMS)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeCompliance))
	})
}

func TestService_ConcurrentCustomersDoNotInterleave(t *testing.T) {
	now := businessHours(t)
	ctx := context.Background()
	svc, profiles, _ := newService(t, now)
	customer := uuid.New()

	// Hammer one customer concurrently; per-customer serialization must keep
	// the history length exact.
	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = svc.RecordOutcome(ctx, customer, compliance.CommunicationRecord{
				ID:        uuid.New(),
				Channel:   values.ChannelEmail,
				Strategy:  "friendly_reminder",
				Timestamp: now.Add(time.Duration(i) * time.Second),
				Compliant: true,
			})
		}(i)
	}
	wg.Wait()

	p, err := profiles.Get(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, p.History, writers)
}
