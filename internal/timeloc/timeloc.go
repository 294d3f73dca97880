// Package timeloc turns timetable values (minutes past midnight on a service
// date) into absolute instants in one fixed civil timezone, whatever zone the
// host runs in.
package timeloc

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const DefaultZone = "America/New_York"

const minutesPerDay = 24 * 60

// Localizer converts between timetable minutes and absolute time.
type Localizer interface {
	// Absolute returns the instant at minutes past local midnight of serviceDate
	// (YYYYMMDD). Minutes past 1440 land on the following day.
	Absolute(serviceDate, minutes int) time.Time
	// Civil returns the local service date and minutes past midnight of t.
	Civil(t time.Time) (serviceDate, minutes int)
	// ServiceDate is the local calendar date of t as YYYYMMDD.
	ServiceDate(t time.Time) int
	// Location is the civil zone used for formatting.
	Location() *time.Location
}

// OffsetLocalizer reads the zone offset off a wall-clock rendering of each
// instant instead of trusting a cached offset, so conversions stay correct on
// both sides of a daylight-saving change.
type OffsetLocalizer struct {
	loc *time.Location
}

func New(zone string) (*OffsetLocalizer, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", zone, err)
	}
	return &OffsetLocalizer{loc: loc}, nil
}

// MustNew is for tests and package-level defaults.
func MustNew(zone string) *OffsetLocalizer {
	l, err := New(zone)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *OffsetLocalizer) Location() *time.Location { return l.loc }

// offsetAt is the civil zone's UTC offset at instant t: the local wall clock
// reinterpreted as UTC, minus the real instant.
func (l *OffsetLocalizer) offsetAt(t time.Time) time.Duration {
	wall := t.In(l.loc)
	naive := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, time.UTC)
	return naive.Sub(t.Truncate(time.Second))
}

func (l *OffsetLocalizer) Absolute(serviceDate, minutes int) time.Time {
	y, m, d := SplitDate(serviceDate)
	dayOffset := 0
	if minutes >= minutesPerDay {
		dayOffset = minutes / minutesPerDay
		minutes %= minutesPerDay
	}
	naive := time.Date(y, time.Month(m), d+dayOffset, minutes/60, minutes%60, 0, 0, time.UTC)

	// First guess with the offset at the naive instant, then correct with the
	// offset in force at the guess. Two passes settle across a DST change.
	guess := naive.Add(-l.offsetAt(naive))
	return naive.Add(-l.offsetAt(guess)).In(l.loc)
}

func (l *OffsetLocalizer) Civil(t time.Time) (int, int) {
	naive := t.Add(l.offsetAt(t)).UTC()
	return JoinDate(naive.Year(), int(naive.Month()), naive.Day()), naive.Hour()*60 + naive.Minute()
}

func (l *OffsetLocalizer) ServiceDate(t time.Time) int {
	date, _ := l.Civil(t)
	return date
}

// SplitDate breaks YYYYMMDD into its parts.
func SplitDate(date int) (year, month, day int) {
	return date / 10000, date / 100 % 100, date % 100
}

func JoinDate(year, month, day int) int {
	return year*10000 + month*100 + day
}

// PreviousDate is the calendar day before date, used to look up
// after-midnight trips that belong to yesterday's service.
func PreviousDate(date int) int {
	y, m, d := SplitDate(date)
	prev := time.Date(y, time.Month(m), d-1, 12, 0, 0, 0, time.UTC)
	return JoinDate(prev.Year(), int(prev.Month()), prev.Day())
}

// AddDays shifts a YYYYMMDD date by n calendar days.
func AddDays(date, n int) int {
	y, m, d := SplitDate(date)
	next := time.Date(y, time.Month(m), d+n, 12, 0, 0, 0, time.UTC)
	return JoinDate(next.Year(), int(next.Month()), next.Day())
}

// ParseClock reads "10:35 PM", "10:35PM" or "22:35" as minutes past midnight.
func ParseClock(s string) (int, error) {
	for _, layout := range []string{"3:04 PM", "3:04PM", "03:04 PM", "15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized clock time %q", s)
}
