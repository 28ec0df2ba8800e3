package recurrence

import (
	"slices"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

const (
	// DefaultHorizonDays bounds rules that have neither an end date nor a count.
	DefaultHorizonDays = 365

	// maxDates caps a single expansion.
	maxDates = 5000

	// maxScanDays bounds the search for the next matching day of a
	// filtering rule.
	maxScanDays = 3660
)

// Date is one generated sibling. EndDate is set when the base occurrence
// spans several days and keeps the same span.
type Date struct {
	Date    time.Time
	EndDate *time.Time
}

// Expand generates the sibling dates of a base occurrence. The result is
// strictly increasing, every date is after base and no later than the
// resolved termination. An empty result is valid and means the group has no
// siblings.
func Expand(base time.Time, endDate *time.Time, rule Rule) []Date {
	base = model.DayOf(base)
	if rule.IsNone() {
		return nil
	}
	if newGenerator(base, rule) == nil {
		return nil
	}

	until := resolveUntil(base, rule)
	span := 0
	if endDate != nil {
		if end := model.DayOf(*endDate); end.After(base) {
			span = int(end.Sub(base).Hours() / 24)
		}
	}

	gen := newGenerator(base, rule)
	var out []Date
	last := base
	for len(out) < maxDates {
		d, ok := gen.next()
		if !ok || d.After(until) {
			break
		}
		if !d.After(last) {
			continue
		}
		out = append(out, sibling(d, span, endDate != nil))
		last = d
	}
	return out
}

// Until returns the resolved termination date of rule for base.
func Until(base time.Time, rule Rule) time.Time {
	return resolveUntil(model.DayOf(base), rule)
}

func sibling(d time.Time, span int, hasEnd bool) Date {
	s := Date{Date: d}
	if hasEnd {
		end := d.AddDate(0, 0, span)
		s.EndDate = &end
	}
	return s
}

// resolveUntil turns the rule's termination into an inclusive end date. A
// count is converted by stepping count-1 times through the rule itself.
func resolveUntil(base time.Time, rule Rule) time.Time {
	switch {
	case rule.EndDate != nil:
		return model.DayOf(*rule.EndDate)
	case rule.Count > 0:
		gen := newGenerator(base, rule)
		until := base
		if gen == nil {
			return until
		}
		for i := 1; i < rule.Count && i <= maxDates; i++ {
			d, ok := gen.next()
			if !ok {
				break
			}
			until = d
		}
		return until
	default:
		return base.AddDate(0, 0, DefaultHorizonDays)
	}
}

type generator struct {
	base   time.Time
	step   func(k int) time.Time // cadence rules: k-th date after base
	keep   func(time.Time) bool  // filtering rules: day-by-day predicate
	k      int
	cursor time.Time
}

func newGenerator(base time.Time, rule Rule) *generator {
	g := &generator{base: base, cursor: base}
	interval := max(rule.Interval, 1)

	switch rule.Type {
	case model.RepeatDaily:
		g.step = func(k int) time.Time { return base.AddDate(0, 0, k) }
	case model.RepeatWeekly:
		g.step = func(k int) time.Time { return base.AddDate(0, 0, 7*k) }
	case model.RepeatMonthly:
		g.step = func(k int) time.Time { return addMonthsClamped(base, k) }
	case model.RepeatYearly:
		g.step = func(k int) time.Time { return addYearsClamped(base, k) }
	case model.RepeatWeekdays:
		g.keep = func(d time.Time) bool { return !isWeekend(d) }
	case model.RepeatWeekends:
		g.keep = isWeekend
	case model.RepeatCustom:
		switch rule.Unit {
		case model.UnitDays:
			g.step = func(k int) time.Time { return base.AddDate(0, 0, k*interval) }
		case model.UnitWeeks:
			if len(rule.Weekdays) == 0 {
				g.step = func(k int) time.Time { return base.AddDate(0, 0, 7*k*interval) }
				break
			}
			days := slices.Clone(rule.Weekdays)
			g.keep = func(d time.Time) bool {
				if !slices.Contains(days, d.Weekday()) {
					return false
				}
				week := daysBetween(base, d) / 7
				return week%interval == 0
			}
		case model.UnitMonths:
			g.step = func(k int) time.Time { return addMonthsClamped(base, k*interval) }
		case model.UnitYears:
			g.step = func(k int) time.Time { return addYearsClamped(base, k*interval) }
		default:
			return nil
		}
	default:
		return nil
	}
	return g
}

func (g *generator) next() (time.Time, bool) {
	if g.step != nil {
		g.k++
		return g.step(g.k), true
	}
	for i := 0; i < maxScanDays; i++ {
		g.cursor = g.cursor.AddDate(0, 0, 1)
		if g.keep(g.cursor) {
			return g.cursor, true
		}
	}
	return time.Time{}, false
}

// addMonthsClamped moves base n months forward keeping its day of month,
// clamped to the target month's last day. Each call starts from base, so a
// clamp never shifts later months.
func addMonthsClamped(base time.Time, n int) time.Time {
	y, m, d := base.Date()
	total := int(m) - 1 + n
	ty := y + total/12
	tm := time.Month(total%12 + 1)
	if last := daysInMonth(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, 0, 0, 0, 0, time.UTC)
}

func addYearsClamped(base time.Time, n int) time.Time {
	y, m, d := base.Date()
	ty := y + n
	if last := daysInMonth(ty, m); d > last {
		d = last
	}
	return time.Date(ty, m, d, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
