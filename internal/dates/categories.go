package dates

import "time"

// Category is a label assigned to an event range. A matching unique
// category ends the evaluation.
type Category struct {
	Name   string
	Label  string
	Unique bool
	Match  func(r Ranges, start, end time.Time) bool
}

// DefaultCategories is evaluated top to bottom. "Already over" excludes
// every other label.
var DefaultCategories = []Category{
	{Name: "over", Label: "Already over", Unique: true, Match: Ranges.IsOver},
	{Name: "today", Label: "Today", Match: Ranges.IsToday},
	{Name: "tomorrow", Label: "Tomorrow", Match: Ranges.IsTomorrow},
	{Name: "day_after_tomorrow", Label: "Day after Tomorrow", Match: Ranges.IsDayAfterTomorrow},
	{Name: "this_weekend", Label: "This Weekend", Match: Ranges.IsThisWeekend},
	{Name: "next_weekend", Label: "Next Weekend", Match: Ranges.IsNextWeekend},
	{Name: "this_week", Label: "This Week", Match: Ranges.IsThisWeek},
	{Name: "next_week", Label: "Next Week", Match: Ranges.IsNextWeek},
	{Name: "this_month", Label: "This Month", Match: Ranges.IsThisMonth},
	{Name: "next_month", Label: "Next Month", Match: Ranges.IsNextMonth},
	{Name: "this_year", Label: "This Year", Match: Ranges.IsThisYear},
	{Name: "next_year", Label: "Next Year", Match: Ranges.IsNextYear},
}

// DateCategories returns the labels of every category matching
// [start, end], in table order.
func (r Ranges) DateCategories(table []Category, start, end time.Time) []string {
	if table == nil {
		table = DefaultCategories
	}
	var out []string
	for _, c := range table {
		if !c.Match(r, start, end) {
			continue
		}
		out = append(out, c.Label)
		if c.Unique {
			break
		}
	}
	return out
}
