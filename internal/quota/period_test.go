package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodForAnchor(t *testing.T) {
	tests := []struct {
		name      string
		anchor    time.Time
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid-period",
			anchor:    time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC),
			now:       date(2026, 8, 20),
			wantStart: date(2026, 8, 15),
			wantEnd:   date(2026, 9, 15),
		},
		{
			name:      "anchor day still ahead this month",
			anchor:    date(2025, 3, 15),
			now:       date(2026, 9, 14),
			wantStart: date(2026, 8, 15),
			wantEnd:   date(2026, 9, 15),
		},
		{
			name:      "on the anchor day",
			anchor:    date(2025, 3, 15),
			now:       date(2026, 9, 15),
			wantStart: date(2026, 9, 15),
			wantEnd:   date(2026, 10, 15),
		},
		{
			name:      "first of month anchor",
			anchor:    date(2024, 1, 1),
			now:       date(2026, 6, 30),
			wantStart: date(2026, 6, 1),
			wantEnd:   date(2026, 7, 1),
		},
		{
			name:   "day 31 anchor in a short month normalizes forward",
			anchor: date(2025, 1, 31),
			now:    date(2026, 4, 29),
			// April 31 normalizes to May 1, which is in the future, so the
			// start rolls back one month to April 1.
			wantStart: date(2026, 4, 1),
			wantEnd:   date(2026, 5, 1),
		},
		{
			name:      "anchor time of day ignored",
			anchor:    time.Date(2025, 5, 10, 23, 59, 59, 0, time.UTC),
			now:       time.Date(2026, 5, 10, 0, 0, 1, 0, time.UTC),
			wantStart: date(2026, 5, 10),
			wantEnd:   date(2026, 6, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := PeriodForAnchor(tt.anchor, tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestPeriodForAnchorContainsNow(t *testing.T) {
	anchor := date(2025, 7, 28)
	for day := 1; day <= 28; day++ {
		now := time.Date(2026, 2, day, 12, 0, 0, 0, time.UTC)
		start, end := PeriodForAnchor(anchor, now)
		assert.False(t, start.After(now), "start %s after now %s", start, now)
		assert.True(t, end.After(now), "end %s not after now %s", end, now)
	}
}
