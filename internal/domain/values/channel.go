package values

import "fmt"

// Channel represents an outbound communication channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// ChannelPriority is the fixed fallback order used when a retry moves to
// another channel.
var ChannelPriority = []Channel{ChannelEmail, ChannelSMS, ChannelVoice}

// String returns the string representation of the channel
func (c Channel) String() string {
	return string(c)
}

// IsValid reports whether the channel is one of the supported channels
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelVoice:
		return true
	default:
		return false
	}
}

// RequiresConsent reports whether outbound contact on this channel needs a
// standing consent record. SMS and voice fall under TCPA-style prior express
// consent; email is governed by the disclosure rules instead.
func (c Channel) RequiresConsent() bool {
	switch c {
	case ChannelSMS, ChannelVoice:
		return true
	default:
		return false
	}
}

// ParseChannel parses and validates a channel string
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid channel: %q", s)
	}
	return c, nil
}
