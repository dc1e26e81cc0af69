package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/values"
)

// Request is one candidate communication to evaluate. SkipContentChecks is
// set for scheduling probes where no content has been rendered yet.
type Request struct {
	CustomerID        uuid.UUID
	Channel           values.Channel
	Strategy          string
	Content           string
	SkipContentChecks bool
}

// Evaluate runs every check against the candidate communication and returns
// the complete picture: all violations and warnings, whether the send may
// proceed, and the earliest time at which the timing constraints clear.
//
// The function is pure and side-effect-free. The same (request, profile
// snapshot, rule set, now) always yields the same verdict, which is what
// makes compliance decisions reproducible for audit defense. Checks never
// short-circuit; callers need every violation, not just the first.
func Evaluate(req Request, profile *Profile, rs RuleSet, now time.Time) Verdict {
	v := Verdict{}
	loc := rs.Location()
	local := now.In(loc)

	checkConsent(req, profile, rs, now, &v)
	checkTimeWindow(req, rs, local, &v)
	checkFrequency(req, profile, rs, local, &v)
	if !req.SkipContentChecks {
		checkContent(req, rs, &v)
	}
	checkVoiceSpacing(req, profile, rs, local, &v)

	v.CanProceed = len(v.Violations) == 0
	v.Compliant = v.CanProceed

	if !v.CanProceed {
		next := nextAllowedTime(req, profile, rs, local, v)
		v.NextAllowedTime = &next
	}

	return v
}

func checkConsent(req Request, profile *Profile, rs RuleSet, now time.Time, v *Verdict) {
	if !req.Channel.RequiresConsent() {
		return
	}

	consent := profile.ValidConsent(req.Channel, now)
	if consent == nil {
		v.Violations = append(v.Violations, Violation{
			Type:        ViolationConsentMissing,
			Severity:    SeverityHigh,
			Channel:     req.Channel,
			Description: fmt.Sprintf("no valid consent on record for channel %s", req.Channel),
		})
		return
	}

	if consent.ExpiresWithin(now, rs.ConsentExpiryWarning) {
		v.Warnings = append(v.Warnings, Warning{
			Type:        WarningConsentExpiring,
			Channel:     req.Channel,
			Description: fmt.Sprintf("consent for %s expires at %s", req.Channel, consent.ExpiresAt.Format(time.RFC3339)),
		})
	}
}

func checkTimeWindow(req Request, rs RuleSet, local time.Time, v *Verdict) {
	if rs.CallingHours.Contains(local.Hour()) {
		return
	}

	resume := windowClear(local, rs.CallingHours)
	v.Violations = append(v.Violations, Violation{
		Type:     ViolationTimeRestriction,
		Severity: SeverityHigh,
		Channel:  req.Channel,
		Description: fmt.Sprintf("local time %02d:%02d is outside calling hours %02d:00-%02d:00; contact may resume at %s",
			local.Hour(), local.Minute(), rs.CallingHours.StartHour, rs.CallingHours.EndHour, resume.Format(time.RFC3339)),
	})
}

func checkFrequency(req Request, profile *Profile, rs RuleSet, local time.Time, v *Verdict) {
	dayStart := startOfDay(local)
	weekStart := startOfWeek(local)

	if limit, ok := rs.DailyLimits[req.Channel]; ok && limit > 0 {
		daily := profile.CountChannelSince(req.Channel, dayStart, local)
		switch {
		case daily >= limit:
			v.Violations = append(v.Violations, Violation{
				Type:        ViolationFrequencyExceeded,
				Severity:    SeverityHigh,
				Channel:     req.Channel,
				Description: fmt.Sprintf("daily contact cap reached for %s (%d of %d)", req.Channel, daily, limit),
			})
		case float64(daily) >= rs.WarnAtFraction*float64(limit) && daily > 0:
			v.Warnings = append(v.Warnings, Warning{
				Type:        WarningApproachingLimit,
				Channel:     req.Channel,
				Description: fmt.Sprintf("approaching daily cap for %s (%d of %d)", req.Channel, daily, limit),
			})
		}
	}

	if limit, ok := rs.WeeklyLimits[req.Channel]; ok && limit > 0 {
		weekly := profile.CountChannelSince(req.Channel, weekStart, local)
		if weekly >= limit {
			v.Violations = append(v.Violations, Violation{
				Type:        ViolationFrequencyExceeded,
				Severity:    SeverityHigh,
				Channel:     req.Channel,
				Description: fmt.Sprintf("weekly contact cap reached for %s (%d of %d)", req.Channel, weekly, limit),
			})
		}
	}

	if rs.MaxDailyTotal > 0 {
		total := profile.CountAllSince(dayStart, local)
		if total >= rs.MaxDailyTotal {
			v.Violations = append(v.Violations, Violation{
				Type:        ViolationHarassmentPattern,
				Severity:    SeverityCritical,
				Channel:     req.Channel,
				Description: fmt.Sprintf("same-day contact cap across all channels reached (%d of %d)", total, rs.MaxDailyTotal),
			})
		}
	}
}

func checkContent(req Request, rs RuleSet, v *Verdict) {
	content := strings.ToLower(req.Content)

	for _, term := range rs.ProhibitedTerms {
		if strings.Contains(content, strings.ToLower(term)) {
			v.Violations = append(v.Violations, Violation{
				Type:        ViolationContentProhibited,
				Severity:    SeverityCritical,
				Channel:     req.Channel,
				Description: fmt.Sprintf("content contains prohibited term %q", term),
			})
		}
	}

	for _, phrase := range rs.RequiredDisclosures {
		if !strings.Contains(content, strings.ToLower(phrase)) {
			v.Violations = append(v.Violations, Violation{
				Type:        ViolationDisclosureMissing,
				Severity:    SeverityHigh,
				Channel:     req.Channel,
				Description: fmt.Sprintf("required disclosure %q is absent", phrase),
			})
		}
	}
}

func checkVoiceSpacing(req Request, profile *Profile, rs RuleSet, local time.Time, v *Verdict) {
	if req.Channel != values.ChannelVoice || rs.MinVoiceGap <= 0 {
		return
	}

	last := profile.LastContact(values.ChannelVoice)
	if last == nil {
		return
	}

	elapsed := local.Sub(*last)
	if elapsed < rs.MinVoiceGap {
		v.Violations = append(v.Violations, Violation{
			Type:        ViolationVoiceSpacing,
			Severity:    SeverityMedium,
			Channel:     req.Channel,
			Description: fmt.Sprintf("minimum spacing between voice attempts not met; wait %s", (rs.MinVoiceGap - elapsed).Round(time.Minute)),
		})
	}
}

// nextAllowedTime is the earliest instant at which every timing constraint
// clears: within calling hours, under the daily cap (resets at local
// midnight), under the weekly cap (resets at the week boundary), and past
// the voice spacing gap. It is the maximum of the individual clear times.
func nextAllowedTime(req Request, profile *Profile, rs RuleSet, local time.Time, v Verdict) time.Time {
	next := local

	clear := windowClear(local, rs.CallingHours)
	if clear.After(next) {
		next = clear
	}

	if violatesFrequencyDaily(req, profile, rs, local) {
		clear = alignToWindow(startOfDay(local).AddDate(0, 0, 1), rs.CallingHours)
		if clear.After(next) {
			next = clear
		}
	}

	if violatesFrequencyWeekly(req, profile, rs, local) {
		clear = alignToWindow(startOfWeek(local).AddDate(0, 0, 7), rs.CallingHours)
		if clear.After(next) {
			next = clear
		}
	}

	if v.HasViolation(ViolationVoiceSpacing) {
		if last := profile.LastContact(values.ChannelVoice); last != nil {
			clear = alignToWindow(last.Add(rs.MinVoiceGap).In(local.Location()), rs.CallingHours)
			if clear.After(next) {
				next = clear
			}
		}
	}

	return next
}

func violatesFrequencyDaily(req Request, profile *Profile, rs RuleSet, local time.Time) bool {
	dayStart := startOfDay(local)
	if limit, ok := rs.DailyLimits[req.Channel]; ok && limit > 0 {
		if profile.CountChannelSince(req.Channel, dayStart, local) >= limit {
			return true
		}
	}
	if rs.MaxDailyTotal > 0 && profile.CountAllSince(dayStart, local) >= rs.MaxDailyTotal {
		return true
	}
	return false
}

func violatesFrequencyWeekly(req Request, profile *Profile, rs RuleSet, local time.Time) bool {
	if limit, ok := rs.WeeklyLimits[req.Channel]; ok && limit > 0 {
		return profile.CountChannelSince(req.Channel, startOfWeek(local), local) >= limit
	}
	return false
}

// windowClear returns the earliest instant >= local that falls inside the
// calling-hour window: now when already inside, today's window start when it
// is still ahead, otherwise tomorrow's window start.
func windowClear(local time.Time, w TimeWindow) time.Time {
	if w.Contains(local.Hour()) {
		return local
	}

	year, month, day := local.Date()
	todayStart := time.Date(year, month, day, w.StartHour, 0, 0, 0, local.Location())
	if todayStart.After(local) {
		return todayStart
	}
	return todayStart.AddDate(0, 0, 1)
}

// alignToWindow steps a candidate forward to the next instant inside the
// calling-hour window.
func alignToWindow(t time.Time, w TimeWindow) time.Time {
	return windowClear(t, w)
}

// startOfDay truncates to local midnight
func startOfDay(local time.Time) time.Time {
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, local.Location())
}

// startOfWeek truncates to the preceding Monday at local midnight
func startOfWeek(local time.Time) time.Time {
	day := startOfDay(local)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
