package delivery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first retry", 0, time.Minute},
		{"second retry", 1, 5 * time.Minute},
		{"third retry", 2, 15 * time.Minute},
		{"past the table doubles", 3, 30 * time.Minute},
		{"capped at max delay", 4, time.Hour},
		{"stays capped", 10, time.Hour},
		{"negative clamps to first", -1, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.NextDelay(tt.retryCount))
		})
	}
}

func newTestMessage(t *testing.T, channel values.Channel) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage(uuid.New(), uuid.New(), decimal.NewFromInt(250),
		channel, "payment_notice", "debtor@example.com", 3, time.Now())
	require.NoError(t, err)
	return msg
}

func TestRetryPolicy_NextChannel(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		name      string
		channel   values.Channel
		attempted []values.Channel
		disabled  []values.Channel
		want      values.Channel
	}{
		{
			name:    "fresh cycle prefers email",
			channel: values.ChannelSMS,
			want:    values.ChannelEmail,
		},
		{
			name:      "email tried, falls to sms",
			channel:   values.ChannelEmail,
			attempted: []values.Channel{values.ChannelEmail},
			want:      values.ChannelSMS,
		},
		{
			name:      "email and sms tried, falls to voice",
			channel:   values.ChannelSMS,
			attempted: []values.Channel{values.ChannelEmail, values.ChannelSMS},
			want:      values.ChannelVoice,
		},
		{
			name:      "disabled channels are skipped",
			channel:   values.ChannelEmail,
			attempted: []values.Channel{values.ChannelEmail},
			disabled:  []values.Channel{values.ChannelSMS},
			want:      values.ChannelVoice,
		},
		{
			name:      "everything tried stays on current channel",
			channel:   values.ChannelVoice,
			attempted: []values.Channel{values.ChannelEmail, values.ChannelSMS, values.ChannelVoice},
			want:      values.ChannelVoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := newTestMessage(t, tt.channel)
			msg.AttemptedChannels = tt.attempted

			prefs := compliance.ContactPreferences{Disabled: map[values.Channel]bool{}}
			for _, ch := range tt.disabled {
				prefs.Disabled[ch] = true
			}

			assert.Equal(t, tt.want, policy.NextChannel(msg, prefs))
		})
	}
}
