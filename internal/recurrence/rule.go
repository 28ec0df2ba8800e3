package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// Rule is the frequency/interval/termination definition attached to the
// first occurrence of a group.
type Rule struct {
	Type     model.RepeatType
	Unit     model.RepeatUnit // custom only
	Interval int              // custom only; values < 1 are treated as 1
	Weekdays []time.Weekday   // custom weeks only
	EndDate  *time.Time       // explicit termination, inclusive
	Count    int              // total occurrences including the base; 0 = unset
}

// None is the rule that never produces siblings.
var None = Rule{Type: model.RepeatNone}

// IsNone reports whether the rule produces no siblings.
func (r Rule) IsNone() bool {
	return r.Type == "" || r.Type == model.RepeatNone || !r.Type.Valid()
}

// FromOccurrence builds the rule stored on an occurrence. Incomplete custom
// definitions degrade to None rather than failing.
func FromOccurrence(o *model.Occurrence) Rule {
	if o == nil || !o.RepeatType.Valid() || o.RepeatType == model.RepeatNone {
		return None
	}

	r := Rule{
		Type:     o.RepeatType,
		Interval: 1,
		EndDate:  o.RepeatEndDate,
		Count:    o.RepeatCount,
	}
	if r.Type != model.RepeatCustom {
		return r
	}

	p := o.RepeatPattern
	if p == nil {
		return None
	}
	switch p.Unit {
	case model.UnitDays, model.UnitWeeks, model.UnitMonths, model.UnitYears:
	default:
		return None
	}
	r.Unit = p.Unit
	if p.Interval > 1 {
		r.Interval = p.Interval
	}
	for _, wd := range p.Weekdays {
		if wd >= 0 && wd <= 6 {
			r.Weekdays = append(r.Weekdays, time.Weekday(wd))
		}
	}
	// A custom pattern carries its own termination.
	if p.EndDate != "" {
		if t, err := model.ParseDate(p.EndDate); err == nil {
			r.EndDate = &t
		}
	}
	if p.Count > 0 {
		r.Count = p.Count
	}
	return r
}

// Apply writes the rule into the persisted recurrence fields of o.
func (r Rule) Apply(o *model.Occurrence) {
	o.RepeatPattern = nil
	o.RepeatEndDate = nil
	o.RepeatCount = 0
	if r.IsNone() {
		o.RepeatType = model.RepeatNone
		return
	}

	o.RepeatType = r.Type
	o.RepeatCount = r.Count
	if r.EndDate != nil {
		end := model.DayOf(*r.EndDate)
		o.RepeatEndDate = &end
	}
	if r.Type != model.RepeatCustom {
		return
	}

	p := &model.RepeatPattern{Unit: r.Unit, Interval: max(r.Interval, 1), Count: r.Count}
	for _, wd := range r.Weekdays {
		p.Weekdays = append(p.Weekdays, int(wd))
	}
	if r.EndDate != nil {
		p.EndDate = r.EndDate.Format(model.DateLayout)
	}
	o.RepeatPattern = p
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Type {
	case model.RepeatDaily:
		return "Repeats daily"
	case model.RepeatWeekly:
		return "Repeats weekly"
	case model.RepeatMonthly:
		return "Repeats monthly"
	case model.RepeatYearly:
		return "Repeats yearly"
	case model.RepeatWeekdays:
		return "Repeats on weekdays"
	case model.RepeatWeekends:
		return "Repeats on weekends"
	case model.RepeatCustom:
		return r.describeCustom()
	}
	return ""
}

func (r Rule) describeCustom() string {
	n := max(r.Interval, 1)
	unit := strings.TrimSuffix(string(r.Unit), "s")
	var prefix string
	if n == 1 {
		prefix = "Repeats every " + unit
	} else {
		prefix = fmt.Sprintf("Repeats every %d %s", n, r.Unit)
	}
	if r.Unit == model.UnitWeeks && len(r.Weekdays) > 0 {
		var names []string
		for _, d := range r.Weekdays {
			names = append(names, d.String()[:3])
		}
		return prefix + " on " + strings.Join(names, ", ")
	}
	return prefix
}
