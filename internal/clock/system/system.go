// Package system provides a real clock implementation.
package system

import "time"

// Clock implements catalog.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock reporting times in loc. Archive names are dated
// with this clock, so operators usually want their local zone.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
