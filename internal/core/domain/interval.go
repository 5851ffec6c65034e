package domain

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds the interval covering minutes starting at start.
func NewInterval(start time.Time, minutes int) Interval {
	start = start.UTC()
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps reports whether a and b share at least one instant. Touching
// intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Overlaps is the method form of the package-level Overlaps.
func (i Interval) Overlaps(other Interval) bool {
	return Overlaps(i, other)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}
