package compliance

import (
	"fmt"
	"time"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// RuleSet is a versioned, immutable snapshot of the jurisdictional limits a
// candidate communication is evaluated against. It is loaded once per
// evaluation and never mutated by the engine; rule authoring lives outside
// this repository.
type RuleSet struct {
	Version  string `json:"version"`
	Timezone string `json:"timezone"`

	// Calling-hour window in local time
	CallingHours TimeWindow `json:"calling_hours"`

	// Per-channel contact caps, derived by filtering history
	DailyLimits  map[values.Channel]int `json:"daily_limits"`
	WeeklyLimits map[values.Channel]int `json:"weekly_limits"`

	// Cross-channel same-day cap (harassment-pattern rule)
	MaxDailyTotal int `json:"max_daily_total"`

	// Minimum spacing between voice attempts
	MinVoiceGap time.Duration `json:"min_voice_gap"`

	// Content rules
	RequiredDisclosures []string `json:"required_disclosures"`
	ProhibitedTerms     []string `json:"prohibited_terms"`

	// Fraction of a daily cap at which a warning is raised
	WarnAtFraction float64 `json:"warn_at_fraction"`

	// Consent records expiring within this window produce a warning
	ConsentExpiryWarning time.Duration `json:"consent_expiry_warning"`
}

// TimeWindow is a local-time hour range in which outbound contact is allowed
type TimeWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether the given local hour falls inside the window.
// Windows may span midnight (e.g. 22 to 6).
func (w TimeWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// DefaultRuleSet returns the FDCPA/TCPA-style defaults used when no
// jurisdiction-specific snapshot is configured.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version:  "default-v1",
		Timezone: "America/New_York",
		CallingHours: TimeWindow{
			StartHour: 8,
			EndHour:   21,
		},
		DailyLimits: map[values.Channel]int{
			values.ChannelEmail: 3,
			values.ChannelSMS:   2,
			values.ChannelVoice: 1,
		},
		WeeklyLimits: map[values.Channel]int{
			values.ChannelEmail: 10,
			values.ChannelSMS:   6,
			values.ChannelVoice: 3,
		},
		MaxDailyTotal: 5,
		MinVoiceGap:   4 * time.Hour,
		RequiredDisclosures: []string{
			"this is an attempt to collect a debt",
			"right to dispute",
		},
		ProhibitedTerms: []string{
			"arrest",
			"lawsuit will be filed today",
			"garnish your wages immediately",
			"criminal charges",
		},
		WarnAtFraction:       0.8,
		ConsentExpiryWarning: 30 * 24 * time.Hour,
	}
}

// Validate validates the rule set configuration
func (rs RuleSet) Validate() error {
	if rs.Version == "" {
		return fmt.Errorf("rule set version cannot be empty")
	}
	if rs.CallingHours.StartHour < 0 || rs.CallingHours.StartHour > 23 {
		return fmt.Errorf("calling hours start must be between 0 and 23")
	}
	if rs.CallingHours.EndHour < 0 || rs.CallingHours.EndHour > 23 {
		return fmt.Errorf("calling hours end must be between 0 and 23")
	}
	if _, err := time.LoadLocation(rs.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", rs.Timezone, err)
	}
	for ch, limit := range rs.DailyLimits {
		if limit < 0 {
			return fmt.Errorf("daily limit for %s cannot be negative", ch)
		}
		if weekly, ok := rs.WeeklyLimits[ch]; ok && weekly < limit {
			return fmt.Errorf("weekly limit for %s is below its daily limit", ch)
		}
	}
	if rs.WarnAtFraction < 0 || rs.WarnAtFraction > 1 {
		return fmt.Errorf("warn fraction must be within [0, 1]")
	}
	return nil
}

// Location resolves the rule set timezone, falling back to UTC when the
// configured zone cannot be loaded.
func (rs RuleSet) Location() *time.Location {
	loc, err := time.LoadLocation(rs.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
