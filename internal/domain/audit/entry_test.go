package audit_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectwise/outreach-backend/internal/domain/audit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		violations []string
		warnings   []string
		want       audit.Result
	}{
		{"clean", nil, nil, audit.ResultPass},
		{"warnings only", nil, []string{"consent_expiring"}, audit.ResultWarning},
		{"violations only", []string{"consent_missing"}, nil, audit.ResultFail},
		{"violations trump warnings", []string{"time_restriction"}, []string{"approaching_daily_limit"}, audit.ResultFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, audit.Classify(tt.violations, tt.warnings))
		})
	}
}

func chainOf(t *testing.T, n int) []*audit.Entry {
	t.Helper()
	now := time.Date(2026, time.March, 11, 12, 0, 0, 0, time.UTC)
	customer := uuid.New()

	entries := make([]*audit.Entry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		e := audit.NewEntry(customer, uuid.New(), "communication_compliance",
			nil, nil, int64(i+1), now.Add(time.Duration(i)*time.Minute))
		e.Chain(int64(i+1), prev)
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChain(t *testing.T) {
	t.Run("intact chain verifies", func(t *testing.T) {
		entries := chainOf(t, 5)
		assert.Equal(t, -1, audit.VerifyChain(entries))
	})

	t.Run("mutated entry breaks verification at its index", func(t *testing.T) {
		entries := chainOf(t, 5)
		entries[2].Result = audit.ResultFail
		assert.Equal(t, 2, audit.VerifyChain(entries))
	})

	t.Run("relinked entry still breaks downstream", func(t *testing.T) {
		entries := chainOf(t, 5)
		entries[2].Violations = []string{"forged"}
		entries[2].Hash = entries[2].ComputeHash()
		// entry 3 no longer commits to the original hash of entry 2
		assert.Equal(t, 3, audit.VerifyChain(entries))
	})
}

func TestEntry_ChainDeterminism(t *testing.T) {
	now := time.Date(2026, time.March, 11, 12, 0, 0, 0, time.UTC)
	e := audit.NewEntry(uuid.New(), uuid.New(), "communication_compliance",
		[]string{"consent_missing"}, []string{"approaching_daily_limit"}, 3, now)
	e.Chain(1, "")

	require.True(t, e.Verify())
	assert.Equal(t, e.Hash, e.ComputeHash())
	assert.Equal(t, audit.ResultFail, e.Result)
}
