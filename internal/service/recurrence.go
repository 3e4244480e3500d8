package service

import (
	"time"

	"campaignservice/internal/models"
)

// IsRecurrenceDue reports whether a recurring campaign last run at lastRun is
// due again at now. MONTHLY uses calendar arithmetic via time.AddDate, which
// normalizes overflow: a run on Jan 31 is next due on Mar 3 (Mar 2 in leap
// years). Unknown rules are always due.
func IsRecurrenceDue(rule *models.RecurrenceRule, lastRun, now time.Time) bool {
	if rule == nil {
		return true
	}
	switch *rule {
	case models.RecurrenceDaily:
		return now.Sub(lastRun) >= 24*time.Hour
	case models.RecurrenceWeekly:
		return now.Sub(lastRun) >= 7*24*time.Hour
	case models.RecurrenceMonthly:
		return !now.Before(lastRun.AddDate(0, 1, 0))
	default:
		return true
	}
}
