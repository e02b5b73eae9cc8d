// Package clock resolves instants to calendar dates in a reference timezone.
// Daily credit resets are decided on these dates, not on UTC days.
package clock

import (
	"fmt"
	"time"
)

// DefaultTimeZone is the reference timezone used when none is configured.
const DefaultTimeZone = "America/New_York"

// Date is a calendar date without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// System is the wall clock.
var System Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Resolver converts instants into calendar dates of a fixed location.
type Resolver struct {
	loc *time.Location
}

// NewResolver loads the named IANA timezone.
func NewResolver(name string) (*Resolver, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Resolver{loc: loc}, nil
}

// NewResolverIn builds a resolver for an already loaded location.
func NewResolverIn(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the reference location.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// DateOf returns the calendar date of t in the reference timezone.
func (r *Resolver) DateOf(t time.Time) Date {
	y, m, d := t.In(r.loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// SameDay reports whether a and b fall on the same reference calendar date.
func (r *Resolver) SameDay(a, b time.Time) bool {
	return r.DateOf(a) == r.DateOf(b)
}

// StartOfNextDay returns the instant the next reference calendar day begins after t.
func (r *Resolver) StartOfNextDay(t time.Time) time.Time {
	local := t.In(r.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, r.loc)
}
