package delivery

import (
	"time"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// RetryPolicy controls backoff spacing and channel fallback for retryable
// failures. The delay table covers the first retries exactly; past the table
// the last delay grows geometrically up to MaxDelay.
type RetryPolicy struct {
	Delays     []time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy spaces retries at 1m, 5m, 15m, then doubles up to an
// hour between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:     []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		Multiplier: 2,
		MaxDelay:   time.Hour,
	}
}

// NextDelay returns the backoff before retry number retryCount (zero-based:
// the first retry uses index 0).
func (p RetryPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount < len(p.Delays) {
		return p.Delays[retryCount]
	}
	if len(p.Delays) == 0 {
		return p.MaxDelay
	}
	d := p.Delays[len(p.Delays)-1]
	for i := len(p.Delays); i <= retryCount; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// NextChannel picks the channel for the next retry: the highest-priority
// channel the customer accepts that has not been tried in this cycle. When
// every acceptable channel has been tried the message stays on its current
// channel, so a flaky provider still gets retried rather than the cycle
// dead-ending.
func (p RetryPolicy) NextChannel(msg *messaging.Message, prefs compliance.ContactPreferences) values.Channel {
	for _, ch := range values.ChannelPriority {
		if !prefs.ChannelEnabled(ch) {
			continue
		}
		if msg.HasAttempted(ch) {
			continue
		}
		return ch
	}
	return msg.Channel
}
