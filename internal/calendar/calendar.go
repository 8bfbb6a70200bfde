// Package calendar provides the trading-calendar oracle used by the batch pipeline.
package calendar

import (
	"time"
)

// Calendar answers trading-day questions. Dates are compared at day granularity in UTC.
type Calendar interface {
	IsTradingDay(date time.Time) bool
	PreviousTradingDay(date time.Time) time.Time
	NextTradingDay(date time.Time) time.Time
	BusinessDays(from, to time.Time) []time.Time
}

// Normalize truncates t to midnight UTC of its own calendar date.
func Normalize(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date is shorthand for a normalized calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NYSE implements Calendar with US equity market holiday rules.
type NYSE struct {
	// Extra closures (weather, national days of mourning) not covered by the rules.
	closures map[time.Time]struct{}
}

// NewNYSE returns the NYSE calendar with optional ad-hoc closures.
func NewNYSE(extraClosures ...time.Time) *NYSE {
	c := &NYSE{closures: make(map[time.Time]struct{}, len(extraClosures))}
	for _, d := range extraClosures {
		c.closures[Normalize(d)] = struct{}{}
	}
	return c
}

// IsTradingDay reports whether the market is open on date.
func (c *NYSE) IsTradingDay(date time.Time) bool {
	d := Normalize(date)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if _, closed := c.closures[d]; closed {
		return false
	}
	return !isHoliday(d)
}

// PreviousTradingDay returns the last trading day strictly before date.
func (c *NYSE) PreviousTradingDay(date time.Time) time.Time {
	d := Normalize(date).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the first trading day strictly after date.
func (c *NYSE) NextTradingDay(date time.Time) time.Time {
	d := Normalize(date).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// BusinessDays lists trading days in [from, to], ascending. Empty when from > to.
func (c *NYSE) BusinessDays(from, to time.Time) []time.Time {
	start, end := Normalize(from), Normalize(to)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func isHoliday(d time.Time) bool {
	y := d.Year()
	for _, h := range holidays(y) {
		if h.Equal(d) {
			return true
		}
	}
	return false
}

// holidays lists the rule-based closures of a year: New Year's, MLK, Presidents,
// Good Friday, Memorial, Independence, Labor, Thanksgiving, Christmas and Juneteenth.
func holidays(year int) []time.Time {
	hs := []time.Time{
		newYears(year),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		easterSunday(year).AddDate(0, 0, -2),
		lastWeekday(year, time.May, time.Monday),
		observed(Date(year, time.July, 4)),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(Date(year, time.December, 25)),
	}
	if year >= 2022 {
		hs = append(hs, observed(Date(year, time.June, 19)))
	}
	return hs
}

// newYears returns the observed New Year's holiday; a Saturday Jan 1 has no weekday closure.
func newYears(year int) time.Time {
	d := Date(year, time.January, 1)
	switch d.Weekday() {
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	case time.Saturday:
		return time.Time{}
	}
	return d
}

// observed shifts a fixed-date holiday off the weekend: Saturday → Friday, Sunday → Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := Date(year, month, 1)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := Date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return Date(year, time.Month(month), day)
}
