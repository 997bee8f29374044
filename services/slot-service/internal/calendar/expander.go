package calendar

import (
	"iter"
	"slices"
	"time"
)

// Candidate is a slot interval proposed by the expander, End = Start + duration.
type Candidate struct {
	Start time.Time
	End   time.Time
}

// Candidates yields every full-duration interval that fits inside the opening
// hours of each calendar date from `from` through `to` (inclusive). Dates are
// the calendar fields of from and to; opening hours are placed in loc.
//
// The sequence is deterministic and can be ranged over repeatedly. Trailing
// time before closing that cannot hold a whole slot yields nothing.
func Candidates(hours WeeklyHours, from, to time.Time, d time.Duration, loc *time.Location) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		if d <= 0 {
			return
		}
		if loc == nil {
			loc = time.UTC
		}
		fy, fm, fd := from.Date()
		ty, tm, td := to.Date()
		last := time.Date(ty, tm, td, 0, 0, 0, 0, loc)

		for i := 0; ; i++ {
			day := time.Date(fy, fm, fd+i, 0, 0, 0, 0, loc)
			if day.After(last) {
				return
			}
			dh := hours.Day(day.Weekday())
			if dh.Closed {
				continue
			}
			closing := dh.Close.On(day, loc)
			for start := dh.Open.On(day, loc); !start.Add(d).After(closing); start = start.Add(d) {
				if !yield(Candidate{Start: start, End: start.Add(d)}) {
					return
				}
			}
		}
	}
}

func Expand(hours WeeklyHours, from, to time.Time, d time.Duration, loc *time.Location) []Candidate {
	return slices.Collect(Candidates(hours, from, to, d, loc))
}
