package occupancy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type memSlots struct {
	slots   []model.Slot
	listErr error
	writes  int
	// appointments are the live local appointments seen by ReleaseUncovered.
	appointments []model.Interval
	afterList    func()
}

func (m *memSlots) ListOverlapping(_ context.Context, studioID string, from, to time.Time) ([]model.Slot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Slot
	for _, s := range m.slots {
		if s.StudioID == studioID && s.Start.Before(to) && s.End.After(from) {
			out = append(out, s)
		}
	}
	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *memSlots) SetBooked(_ context.Context, studioID string, ids []string, booked bool) (int64, error) {
	var n int64
	for _, id := range ids {
		for i := range m.slots {
			if m.slots[i].ID == id && m.slots[i].StudioID == studioID && m.slots[i].Booked != booked {
				m.slots[i].Booked = booked
				n++
			}
		}
	}
	if n > 0 {
		m.writes++
	}
	return n, nil
}

func (m *memSlots) ReleaseUncovered(ctx context.Context, studioID string, ids []string) (int64, error) {
	var free []string
	for _, id := range ids {
		for _, s := range m.slots {
			if s.ID == id && !overlapsAny(s.Interval(), Union(m.appointments)) {
				free = append(free, id)
			}
		}
	}
	return m.SetBooked(ctx, studioID, free, false)
}

// book records a local appointment and marks the slots it covers, the way an
// incoming booking event does.
func (m *memSlots) book(iv model.Interval) {
	m.appointments = append(m.appointments, iv)
	for i := range m.slots {
		if m.slots[i].Interval().Overlaps(iv) {
			m.slots[i].Booked = true
		}
	}
}

func (m *memSlots) booked() map[string]bool {
	out := map[string]bool{}
	for _, s := range m.slots {
		out[s.ID] = s.Booked
	}
	return out
}

var day = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func hourlySlots(from, to int) *memSlots {
	m := &memSlots{}
	for h := from; h < to; h++ {
		m.slots = append(m.slots, model.Slot{
			ID:       at(h, 0).Format("15:04"),
			StudioID: "s1",
			Start:    at(h, 0),
			End:      at(h+1, 0),
		})
	}
	return m
}

func newTestReconciler(m *memSlots) *Reconciler {
	return NewReconciler(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMark_NonAlignedAppointmentBooksBothSlots(t *testing.T) {
	store := hourlySlots(9, 12)
	r := newTestReconciler(store)

	res, err := r.Mark(context.Background(), "s1", []model.Interval{{Start: at(9, 30), End: at(10, 15)}})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Marked != 2 {
		t.Fatalf("expected 2 marked, got %d", res.Marked)
	}
	got := store.booked()
	if !got["09:00"] || !got["10:00"] || got["11:00"] {
		t.Fatalf("unexpected occupancy: %v", got)
	}
}

func TestMark_TouchingBoundariesStayFree(t *testing.T) {
	store := hourlySlots(9, 12)
	r := newTestReconciler(store)

	// Ends exactly when the 10:00 slot starts and starts exactly when it ends.
	intervals := []model.Interval{
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(11, 0), End: at(11, 30)},
	}
	if _, err := r.Mark(context.Background(), "s1", intervals); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got := store.booked()
	if !got["09:00"] || got["10:00"] || !got["11:00"] {
		t.Fatalf("unexpected occupancy: %v", got)
	}
}

func TestMark_Idempotent(t *testing.T) {
	store := hourlySlots(9, 17)
	r := newTestReconciler(store)
	intervals := []model.Interval{{Start: at(12, 10), End: at(14, 5)}}

	if _, err := r.Mark(context.Background(), "s1", intervals); err != nil {
		t.Fatalf("mark: %v", err)
	}
	before := store.booked()
	writes := store.writes

	res, err := r.Mark(context.Background(), "s1", intervals)
	if err != nil {
		t.Fatalf("mark again: %v", err)
	}
	if res.Marked != 0 || store.writes != writes {
		t.Fatalf("expected no further writes, got marked=%d", res.Marked)
	}
	after := store.booked()
	for id, v := range before {
		if after[id] != v {
			t.Fatalf("slot %s changed on re-apply", id)
		}
	}
}

func TestMark_NeverUnmarks(t *testing.T) {
	store := hourlySlots(9, 11)
	store.slots[1].Booked = true
	r := newTestReconciler(store)

	if _, err := r.Mark(context.Background(), "s1", []model.Interval{{Start: at(9, 0), End: at(9, 30)}}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !store.booked()["10:00"] {
		t.Fatal("mark must not clear an existing booking")
	}
}

func TestMark_ListFailureLeavesStateUntouched(t *testing.T) {
	store := hourlySlots(9, 11)
	store.listErr = errors.New("boom")
	r := newTestReconciler(store)

	if _, err := r.Mark(context.Background(), "s1", []model.Interval{{Start: at(9, 0), End: at(11, 0)}}); err == nil {
		t.Fatal("expected error")
	}
	if store.writes != 0 {
		t.Fatal("expected no writes")
	}
}

func TestReconcile_ReleasesFreedSlots(t *testing.T) {
	store := hourlySlots(9, 13)
	store.slots[0].Booked = true // 09:00, cancelled since
	store.slots[2].Booked = true // 11:00, still held
	r := newTestReconciler(store)

	window := model.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	res, err := r.Reconcile(context.Background(), "s1", window, []model.Interval{{Start: at(11, 15), End: at(11, 45)}}, true)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Released != 1 || res.Marked != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := store.booked()
	if got["09:00"] || !got["11:00"] {
		t.Fatalf("unexpected occupancy: %v", got)
	}
}

func TestReconcile_KeepsSlotBookedAfterIntervalsWereRead(t *testing.T) {
	store := hourlySlots(9, 12)
	r := newTestReconciler(store)
	window := model.Interval{Start: day, End: day.AddDate(0, 0, 1)}

	// The pass read its intervals before this booking arrived.
	var surviving []model.Interval
	store.book(model.Interval{Start: at(10, 0), End: at(11, 0)})

	res, err := r.Reconcile(context.Background(), "s1", window, surviving, true)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Released != 0 || !store.booked()["10:00"] {
		t.Fatalf("slot booked mid-pass was released: %+v", res)
	}
}

func TestRelease_BookingBetweenListAndWriteSurvives(t *testing.T) {
	store := hourlySlots(9, 12)
	store.slots[0].Booked = true // 09:00, cancelled since
	store.slots[1].Booked = true
	store.appointments = []model.Interval{{Start: at(10, 0), End: at(10, 30)}}
	r := newTestReconciler(store)
	window := model.Interval{Start: day, End: day.AddDate(0, 0, 1)}

	store.afterList = func() {
		store.book(model.Interval{Start: at(9, 0), End: at(10, 0)})
	}
	res, err := r.Release(context.Background(), "s1", window, []model.Interval{{Start: at(10, 0), End: at(10, 30)}})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Released != 0 || !store.booked()["09:00"] {
		t.Fatalf("expected 09:00 to stay booked, got %+v %v", res, store.booked())
	}
}

func TestReconcile_WithoutReleaseKeepsBookings(t *testing.T) {
	store := hourlySlots(9, 11)
	store.slots[0].Booked = true
	r := newTestReconciler(store)

	window := model.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	if _, err := r.Reconcile(context.Background(), "s1", window, nil, false); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !store.booked()["09:00"] {
		t.Fatal("expected booking to survive")
	}
}

func TestUnion(t *testing.T) {
	got := Union([]model.Interval{
		{Start: at(12, 0), End: at(13, 0)},
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(9, 30), End: at(11, 0)},
		{Start: at(11, 0), End: at(11, 30)},
		{Start: at(14, 0), End: at(14, 0)},
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 intervals, got %v", got)
	}
	if !got[0].Start.Equal(at(9, 0)) || !got[0].End.Equal(at(11, 0)) {
		t.Fatalf("unexpected first interval: %v", got[0])
	}
}
