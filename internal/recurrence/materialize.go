package recurrence

import (
	"slices"

	"github.com/dukerupert/alwaysplan/internal/model"
)

// Materialize expands the rule stored on base into sibling occurrences.
// Siblings share the group, content and reminders of base, carry a fresh
// copy of its checklist with every item unchecked, and have no rule of
// their own.
func Materialize(base *model.Occurrence) []model.Occurrence {
	dates := Expand(base.Date, base.EndDate, FromOccurrence(base))
	if len(dates) == 0 {
		return nil
	}

	out := make([]model.Occurrence, 0, len(dates))
	for _, d := range dates {
		sib := model.Occurrence{
			UserID:               base.UserID,
			GroupID:              base.GroupID,
			Title:                base.Title,
			Description:          base.Description,
			Date:                 d.Date,
			EndDate:              d.EndDate,
			StartTime:            base.StartTime,
			EndTime:              base.EndTime,
			AllDay:               base.AllDay,
			RepeatType:           model.RepeatNone,
			Reminders:            slices.Clone(base.Reminders),
			NotificationsEnabled: base.NotificationsEnabled,
			Status:               model.StatusActive,
			Origin:               base.Origin,
			Hidden:               base.Hidden,
		}
		for _, item := range base.Checklist {
			sib.Checklist = append(sib.Checklist, model.ChecklistItem{Text: item.Text})
		}
		out = append(out, sib)
	}
	return out
}
