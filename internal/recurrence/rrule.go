package recurrence

import (
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// rruleDays maps rrule-go weekday indexes (0 = Monday) to time.Weekday.
var rruleDays = [...]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// DecodeRRule maps the first RRULE line of an external recurrence list onto
// the closest Rule. Decoding is lossy: features without an internal
// equivalent are dropped, and anything unparsable yields None.
func DecodeRRule(lines []string) Rule {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			continue
		}
		opt, err := rrule.StrToROption(line[len("RRULE:"):])
		if err != nil {
			return None
		}
		return fromROption(opt)
	}
	return None
}

func fromROption(opt *rrule.ROption) Rule {
	r := Rule{Interval: max(opt.Interval, 1), Count: opt.Count}
	if !opt.Until.IsZero() {
		until := model.DayOf(opt.Until)
		r.EndDate = &until
	}

	// Positional selectors have no internal equivalent.
	if len(opt.Bysetpos) > 0 || len(opt.Byweekno) > 0 || len(opt.Byyearday) > 0 {
		return None
	}

	switch opt.Freq {
	case rrule.DAILY:
		r.Type = model.RepeatDaily
		if r.Interval > 1 {
			r.Type, r.Unit = model.RepeatCustom, model.UnitDays
		}
	case rrule.WEEKLY:
		days := weekdays(opt.Byweekday)
		switch {
		case len(days) == 0 && r.Interval == 1:
			r.Type = model.RepeatWeekly
		case len(days) == 0:
			r.Type, r.Unit = model.RepeatCustom, model.UnitWeeks
		default:
			r.Type, r.Unit, r.Weekdays = model.RepeatCustom, model.UnitWeeks, days
		}
	case rrule.MONTHLY:
		r.Type = model.RepeatMonthly
		if r.Interval > 1 {
			r.Type, r.Unit = model.RepeatCustom, model.UnitMonths
		}
	case rrule.YEARLY:
		r.Type = model.RepeatYearly
		if r.Interval > 1 {
			r.Type, r.Unit = model.RepeatCustom, model.UnitYears
		}
	default:
		return None
	}

	if r.Type != model.RepeatCustom {
		r.Interval = 1
	}
	return r
}

// weekdays returns the distinct days of a BYDAY list in time.Weekday order,
// ignoring ordinal prefixes such as 2MO.
func weekdays(in []rrule.Weekday) []time.Weekday {
	var out []time.Weekday
	for _, wd := range in {
		d := rruleDays[wd.Day()]
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	// Sunday sorts first; keep Monday-first order like BYDAY lists.
	if len(out) > 0 && out[0] == time.Sunday {
		out = append(out[1:], time.Sunday)
	}
	return out
}

// Resume finds where an external series stands at from. It returns the first
// instance date on or after from and the number of instances before it, using
// the provider's own RRULE semantics. ok is false when base is not before
// from, the series has no instance left, or no RRULE parses.
func Resume(lines []string, base, from time.Time) (next time.Time, skipped int, ok bool) {
	base, from = model.DayOf(base), model.DayOf(from)
	if !base.Before(from) {
		return time.Time{}, 0, false
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			continue
		}
		opt, err := rrule.StrToROption(line[len("RRULE:"):])
		if err != nil {
			return time.Time{}, 0, false
		}
		opt.Dtstart = base
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return time.Time{}, 0, false
		}
		next = r.After(from, true)
		if next.IsZero() {
			return time.Time{}, 0, false
		}
		if opt.Count > 0 {
			skipped = len(r.Between(base, from.Add(-time.Nanosecond), true))
		}
		return model.DayOf(next), skipped, true
	}
	return time.Time{}, 0, false
}
