// Package occupancy derives the booked flag of stored slots from appointment
// intervals. A slot [s, e) is occupied by [a, b) iff s < b && a < e.
package occupancy

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type SlotStore interface {
	ListOverlapping(ctx context.Context, studioID string, from, to time.Time) ([]model.Slot, error)
	SetBooked(ctx context.Context, studioID string, ids []string, booked bool) (int64, error)
	ReleaseUncovered(ctx context.Context, studioID string, ids []string) (int64, error)
}

type Reconciler struct {
	slots  SlotStore
	logger *slog.Logger
}

func NewReconciler(slots SlotStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{slots: slots, logger: logger}
}

type Result struct {
	Examined int   `json:"examined"`
	Marked   int64 `json:"marked"`
	Released int64 `json:"released"`
}

// Mark sets booked on every stored slot overlapping at least one interval.
// It never clears the flag, so applying the same intervals twice changes
// nothing the second time. Slots read as booked are still sent to the store,
// which skips them unless a concurrent release freed them in between.
func (r *Reconciler) Mark(ctx context.Context, studioID string, intervals []model.Interval) (Result, error) {
	busy := Union(intervals)
	if len(busy) == 0 {
		return Result{}, nil
	}
	slots, err := r.slots.ListOverlapping(ctx, studioID, busy[0].Start, busy[len(busy)-1].End)
	if err != nil {
		return Result{}, err
	}

	var ids []string
	for _, s := range slots {
		if overlapsAny(s.Interval(), busy) {
			ids = append(ids, s.ID)
		}
	}
	marked, err := r.slots.SetBooked(ctx, studioID, ids, true)
	if err != nil {
		return Result{}, err
	}
	if marked > 0 {
		r.logger.Info("slots marked booked", "studio_id", studioID, "count", marked)
	}
	return Result{Examined: len(slots), Marked: marked}, nil
}

// Release clears booked on slots inside window that no surviving interval
// overlaps anymore. Callers must pass the complete set of live appointments
// for the window; an incomplete set would free occupied slots. The store
// re-checks local appointments at write time, so one recorded after surviving
// was read still holds its slot.
func (r *Reconciler) Release(ctx context.Context, studioID string, window model.Interval, surviving []model.Interval) (Result, error) {
	if !window.Valid() {
		return Result{}, nil
	}
	busy := Union(surviving)
	slots, err := r.slots.ListOverlapping(ctx, studioID, window.Start, window.End)
	if err != nil {
		return Result{}, err
	}

	var ids []string
	for _, s := range slots {
		if s.Booked && !overlapsAny(s.Interval(), busy) {
			ids = append(ids, s.ID)
		}
	}
	released, err := r.slots.ReleaseUncovered(ctx, studioID, ids)
	if err != nil {
		return Result{}, err
	}
	if released > 0 {
		r.logger.Info("slots released", "studio_id", studioID, "count", released)
	}
	return Result{Examined: len(slots), Released: released}, nil
}

// Reconcile marks intervals and, when release is set, frees the slots in
// window that none of them cover.
func (r *Reconciler) Reconcile(ctx context.Context, studioID string, window model.Interval, intervals []model.Interval, release bool) (Result, error) {
	res, err := r.Mark(ctx, studioID, intervals)
	if err != nil || !release {
		return res, err
	}
	rel, err := r.Release(ctx, studioID, window, intervals)
	if err != nil {
		return res, err
	}
	res.Released = rel.Released
	if rel.Examined > res.Examined {
		res.Examined = rel.Examined
	}
	return res, nil
}

// Union sorts intervals and merges the ones that overlap. Empty or inverted
// intervals are dropped. Touching intervals stay separate.
func Union(intervals []model.Interval) []model.Interval {
	out := make([]model.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Valid() {
			out = append(out, iv)
		}
	}
	slices.SortFunc(out, func(a, b model.Interval) int {
		return a.Start.Compare(b.Start)
	})

	merged := out[:0]
	for _, iv := range out {
		if n := len(merged); n > 0 && iv.Start.Before(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// overlapsAny expects busy as returned by Union.
func overlapsAny(slot model.Interval, busy []model.Interval) bool {
	// first interval ending after the slot starts
	i := sort.Search(len(busy), func(i int) bool { return busy[i].End.After(slot.Start) })
	return i < len(busy) && slot.Overlaps(busy[i])
}
