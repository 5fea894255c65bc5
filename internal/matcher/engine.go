// Package matcher filters a pool of ride offers for a rider, scores each
// candidate and ranks the result. Engine methods are pure reads over the
// snapshot they are given; Service wires them to storage.
package matcher

import "time"

const DefaultFlexMinutes = 30

// Engine holds the few settings the pure matching functions depend on. It has
// no mutable state and is safe for concurrent use.
type Engine struct {
	// Loc is the zone in which requested dates, times of day and preferred
	// time ranges are interpreted.
	Loc *time.Location
	// DefaultFlex is used when an intent carries a time but no flexibility.
	DefaultFlex int
	// Now is the clock used for the future-only constraint.
	Now func() time.Time
}

func NewEngine(loc *time.Location, defaultFlex int) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if defaultFlex < 0 {
		defaultFlex = DefaultFlexMinutes
	}
	return &Engine{Loc: loc, DefaultFlex: defaultFlex, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) location() *time.Location {
	if e.Loc == nil {
		return time.UTC
	}
	return e.Loc
}
