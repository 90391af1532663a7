// Package cycle computes the daily reset boundaries that partition a server's
// timetable into "days".
package cycle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Epoch is the start of the single open cycle used while a server's reset is paused.
var Epoch = time.Unix(0, 0).UTC()

// openEnd bounds the window of a paused cycle.
var openEnd = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// ResetTime is the wall-clock time of day at which a server's cycle rolls over.
type ResetTime struct {
	Hour   int
	Minute int
}

// ParseResetTime parses an "HH:MM" value.
func ParseResetTime(value string) (ResetTime, error) {
	value = strings.TrimSpace(value)
	hourPart, minutePart, ok := strings.Cut(value, ":")
	if !ok || len(hourPart) == 0 || len(hourPart) > 2 || len(minutePart) != 2 {
		return ResetTime{}, fmt.Errorf("cycle: reset time %q must use HH:MM", value)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return ResetTime{}, fmt.Errorf("cycle: invalid hour in reset time %q", value)
	}
	minute, err := strconv.Atoi(minutePart)
	if err != nil || minute < 0 || minute > 59 {
		return ResetTime{}, fmt.Errorf("cycle: invalid minute in reset time %q", value)
	}
	return ResetTime{Hour: hour, Minute: minute}, nil
}

// MustParseResetTime is ParseResetTime for constants; it panics on malformed input.
func MustParseResetTime(value string) ResetTime {
	rt, err := ParseResetTime(value)
	if err != nil {
		panic(err)
	}
	return rt
}

// String renders the reset time as HH:MM.
func (r ResetTime) String() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Window is a half-open [Start, End) interval covering one cycle.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Calculator interprets reset times in a fixed reference timezone.
type Calculator struct {
	loc *time.Location
}

// NewCalculator returns a calculator bound to loc. A nil location means UTC.
func NewCalculator(loc *time.Location) Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return Calculator{loc: loc}
}

// Location returns the reference timezone.
func (c Calculator) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Start returns the most recent instant at or before asOf whose wall-clock time
// equals reset. When paused is set the fixed Epoch is returned instead.
func (c Calculator) Start(reset ResetTime, paused bool, asOf time.Time) time.Time {
	if paused {
		return Epoch
	}
	return c.boundary(reset, asOf)
}

// Window returns the cycle containing asOf.
func (c Calculator) Window(reset ResetTime, paused bool, asOf time.Time) Window {
	if paused {
		return Window{Start: Epoch, End: openEnd}
	}
	start := c.boundary(reset, asOf)
	return Window{Start: start, End: c.next(reset, start)}
}

// Trailing returns the window spanning n consecutive cycles that ends with the
// cycle containing asOf. The pause flag is ignored: history is always bucketed
// by the configured reset time.
func (c Calculator) Trailing(reset ResetTime, asOf time.Time, n int) Window {
	if n < 1 {
		n = 1
	}
	start := c.boundary(reset, asOf)
	end := c.next(reset, start)
	local := start.In(c.Location())
	first := time.Date(local.Year(), local.Month(), local.Day()-(n-1), reset.Hour, reset.Minute, 0, 0, c.Location())
	return Window{Start: first.UTC(), End: end}
}

// MinuteOfDay returns minutes since local midnight of t in the reference timezone.
func (c Calculator) MinuteOfDay(t time.Time) int {
	local := t.In(c.Location())
	return local.Hour()*60 + local.Minute()
}

// Hour returns the local hour (0-23) of t in the reference timezone.
func (c Calculator) Hour(t time.Time) int {
	return t.In(c.Location()).Hour()
}

// Weekday returns the local day of week of t in the reference timezone.
func (c Calculator) Weekday(t time.Time) time.Weekday {
	return t.In(c.Location()).Weekday()
}

func (c Calculator) boundary(reset ResetTime, asOf time.Time) time.Time {
	loc := c.Location()
	local := asOf.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), reset.Hour, reset.Minute, 0, 0, loc)
	if candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()-1, reset.Hour, reset.Minute, 0, 0, loc)
	}
	return candidate.UTC()
}

func (c Calculator) next(reset ResetTime, start time.Time) time.Time {
	local := start.In(c.Location())
	return time.Date(local.Year(), local.Month(), local.Day()+1, reset.Hour, reset.Minute, 0, 0, c.Location()).UTC()
}
