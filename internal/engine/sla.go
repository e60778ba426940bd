package engine

import (
	"regexp"
	"strconv"
	"time"
)

// dateInputPattern matches a DD/MM/YYYY candidate anywhere in the message.
// One or two digit day and month, four digit year; no other format accepted.
var dateInputPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)

// matchDateInput extracts a date candidate from the raw message. matched is
// true when the pattern is present, regardless of calendar validity.
func matchDateInput(raw string) (day, month, year int, matched bool) {
	groups := dateInputPattern.FindStringSubmatch(raw)
	if groups == nil {
		return 0, 0, 0, false
	}
	day, _ = strconv.Atoi(groups[1])
	month, _ = strconv.Atoi(groups[2])
	year, _ = strconv.Atoi(groups[3])
	return day, month, year, true
}

// validCalendarDate builds a date from day/month/year components and
// rejects impossible combinations such as 31/02. The result is midnight UTC.
func validCalendarDate(day, month, year int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		// time.Date normalized an overflow, e.g. 31/02 -> 02/03.
		return time.Time{}, false
	}
	return d, true
}

// DaysUntilGoLive computes the whole-day distance from now to the go-live
// date, both normalized to midnight, with ceiling rounding. Zero or negative
// values mean the date is today or in the past.
func DaysUntilGoLive(goLive, now time.Time) int {
	g := atMidnight(goLive)
	n := atMidnight(now)
	diff := g.Sub(n)
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return days
}

func atMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
