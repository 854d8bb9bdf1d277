package services

import (
	"sort"

	"centime/internal/core"
)

// Occurrence is one projected future charge of a recurring template.
type Occurrence struct {
	Template  core.RecurringTemplate
	NextDate  core.Date
	DaysUntil int
}

// NextOccurrence computes the next calendar day a template will charge, seen
// from today. The template's day this month counts only if it is still ahead;
// a day equal to today or already past rolls to next month. Day-of-month
// values beyond the month's length clamp to its last day.
func NextOccurrence(t core.RecurringTemplate, today core.Date) core.Date {
	thisMonth := core.MonthOf(today)
	if day := thisMonth.ClampDay(t.DayOfMonth); day > today.Day {
		return core.NewDate(thisMonth.Year, thisMonth.Month, day)
	}
	next := thisMonth.AddMonths(1)
	return core.NewDate(next.Year, next.Month, next.ClampDay(t.DayOfMonth))
}

// UpcomingOccurrences projects the next charge of each active template and
// returns those landing within horizonDays of today, soonest first. Ties on
// date are broken by template name for a stable order.
func UpcomingOccurrences(templates []core.RecurringTemplate, today core.Date, horizonDays int) []Occurrence {
	var upcoming []Occurrence
	for _, t := range templates {
		if !t.Active {
			continue
		}
		next := NextOccurrence(t, today)
		days := today.DaysUntil(next)
		if days > horizonDays {
			continue
		}
		upcoming = append(upcoming, Occurrence{Template: t, NextDate: next, DaysUntil: days})
	}

	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].DaysUntil != upcoming[j].DaysUntil {
			return upcoming[i].DaysUntil < upcoming[j].DaysUntil
		}
		return upcoming[i].Template.Name < upcoming[j].Template.Name
	})
	return upcoming
}
