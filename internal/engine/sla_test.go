package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDaysUntilGoLive(t *testing.T) {
	now := time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		goLive time.Time
		expect int
	}{
		{name: "same day", goLive: date(2024, time.January, 1), expect: 0},
		{name: "tomorrow", goLive: date(2024, time.January, 2), expect: 1},
		{name: "at threshold", goLive: date(2024, time.January, 6), expect: 5},
		{name: "yesterday", goLive: date(2023, time.December, 31), expect: -1},
		{name: "one week back", goLive: date(2023, time.December, 25), expect: -7},
		{name: "across leap february", goLive: date(2024, time.March, 1), expect: 60},
		{name: "a year out", goLive: date(2025, time.January, 1), expect: 366},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, DaysUntilGoLive(tc.goLive, now))
		})
	}
}

func TestDaysUntilGoLiveIgnoresTimeOfDay(t *testing.T) {
	goLive := date(2024, time.January, 6)

	// Any clock time on the same calendar day yields the same distance.
	for _, hour := range []int{0, 8, 23} {
		now := time.Date(2024, time.January, 1, hour, 59, 0, 0, time.UTC)
		assert.Equal(t, 5, DaysUntilGoLive(goLive, now), "hour=%d", hour)
	}
}

func TestMatchDateInput(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		matched bool
		day     int
		month   int
		year    int
	}{
		{name: "plain date", text: "25/12/2024", matched: true, day: 25, month: 12, year: 2024},
		{name: "single digit day and month", text: "5/1/2024", matched: true, day: 5, month: 1, year: 2024},
		{name: "date embedded in sentence", text: "we want 25/12/2024 please", matched: true, day: 25, month: 12, year: 2024},
		{name: "two digit year", text: "25/12/24", matched: false},
		{name: "dashes", text: "25-12-2024", matched: false},
		{name: "no date", text: "continue", matched: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			day, month, year, matched := matchDateInput(tc.text)
			assert.Equal(t, tc.matched, matched)
			if tc.matched {
				assert.Equal(t, tc.day, day)
				assert.Equal(t, tc.month, month)
				assert.Equal(t, tc.year, year)
			}
		})
	}
}

func TestValidCalendarDate(t *testing.T) {
	testCases := []struct {
		name  string
		day   int
		month int
		year  int
		valid bool
	}{
		{name: "christmas", day: 25, month: 12, year: 2024, valid: true},
		{name: "leap day", day: 29, month: 2, year: 2024, valid: true},
		{name: "leap day off year", day: 29, month: 2, year: 2023, valid: false},
		{name: "day overflow", day: 32, month: 1, year: 2024, valid: false},
		{name: "month overflow", day: 1, month: 13, year: 2024, valid: false},
		{name: "thirty one in april", day: 31, month: 4, year: 2024, valid: false},
		{name: "zero day", day: 0, month: 1, year: 2024, valid: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := validCalendarDate(tc.day, tc.month, tc.year)
			assert.Equal(t, tc.valid, ok)
			if tc.valid {
				assert.Equal(t, tc.day, d.Day())
				assert.Equal(t, time.Month(tc.month), d.Month())
				assert.Equal(t, tc.year, d.Year())
			}
		})
	}
}
