// Package quota authorizes and bills run-level resource consumption per user
// per billing period. Admission control is strict before the fact; cost
// recording is best-effort after the fact.
package quota

import "time"

// PeriodForAnchor returns the active billing period for an account created at
// anchor, evaluated at now. Periods are one-month windows starting on the
// account-creation day-of-month (UTC midnight), not calendar months. If this
// month's anchor day is still in the future, the period started last month.
//
// Month arithmetic follows time.Date normalization: an anchor on day 31
// rolls into the next month for months that are shorter, matching the
// overflow behavior of the stored period boundaries.
func PeriodForAnchor(anchor, now time.Time) (start, end time.Time) {
	nowUTC := now.UTC()
	today := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	anchorDay := anchor.UTC().Day()

	start = time.Date(today.Year(), today.Month(), anchorDay, 0, 0, 0, 0, time.UTC)
	if start.After(today) {
		start = start.AddDate(0, -1, 0)
	}
	end = start.AddDate(0, 1, 0)
	return start, end
}
