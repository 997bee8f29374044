package calendar

import (
	"slices"
	"time"
)

// Buckets splits items around a day-part threshold (e.g. morning/afternoon).
type Buckets[T any] struct {
	Before []T
	After  []T
}

// SplitByDayPart sorts items by start and places each one before or at/after
// threshold according to its wall-clock start in loc. Each bucket keeps at
// most perBucket items; perBucket <= 0 keeps all of them.
func SplitByDayPart[T any](items []T, startOf func(T) time.Time, threshold TimeOfDay, perBucket int, loc *time.Location) Buckets[T] {
	if loc == nil {
		loc = time.UTC
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return startOf(a).Compare(startOf(b))
	})

	out := Buckets[T]{Before: []T{}, After: []T{}}
	for _, it := range sorted {
		if Of(startOf(it), loc) < threshold {
			if perBucket <= 0 || len(out.Before) < perBucket {
				out.Before = append(out.Before, it)
			}
			continue
		}
		if perBucket <= 0 || len(out.After) < perBucket {
			out.After = append(out.After, it)
		}
	}
	return out
}
