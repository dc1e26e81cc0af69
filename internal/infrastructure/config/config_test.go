package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("does-not-exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, 8, cfg.Delivery.Workers)
	assert.Equal(t, "America/New_York", cfg.Compliance.Timezone)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("OUTREACH_SERVER_PORT", "9090")
	t.Setenv("OUTREACH_LOG_LEVEL", "debug")

	cfg, err := LoadFrom("does-not-exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestComplianceConfig_RuleSet(t *testing.T) {
	cfg, err := LoadFrom("does-not-exist.yaml")
	require.NoError(t, err)

	rs, err := cfg.Compliance.RuleSet("v-test")
	require.NoError(t, err)

	assert.Equal(t, "v-test", rs.Version)
	assert.Equal(t, 8, rs.CallingHours.StartHour)
	assert.Equal(t, 21, rs.CallingHours.EndHour)
	assert.True(t, rs.CallingHours.Contains(14))
	assert.False(t, rs.CallingHours.Contains(23))
	assert.Equal(t, 3, rs.DailyLimits[values.ChannelEmail])
	assert.Equal(t, 5, rs.MaxDailyTotal)

	t.Run("invalid hours rejected", func(t *testing.T) {
		bad := cfg.Compliance
		bad.CallingHoursEnd = 30
		_, err := bad.RuleSet("v-test")
		require.Error(t, err)
	})
}
