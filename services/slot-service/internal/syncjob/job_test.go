package syncjob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/occupancy"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/outbox"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/storage"
)

type fakeStudios map[string]model.Studio

func (f fakeStudios) Get(_ context.Context, id string) (model.Studio, []calendar.ParseWarning, error) {
	s, ok := f[id]
	if !ok {
		return model.Studio{}, nil, apperr.NotFound("studio %q", id)
	}
	return s, nil, nil
}

func (f fakeStudios) ListExternalIDs(context.Context) ([]string, error) {
	var ids []string
	for id, s := range f {
		if s.External.Configured() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeSlots struct {
	byStart map[time.Time]bool
	calls   int
}

func (f *fakeSlots) UpsertMany(_ context.Context, _ string, cands []calendar.Candidate) (storage.UpsertBatch, error) {
	f.calls++
	var b storage.UpsertBatch
	for _, c := range cands {
		if f.byStart[c.Start] {
			b.Updated++
		} else {
			f.byStart[c.Start] = true
			b.Inserted++
		}
		b.Saved = append(b.Saved, model.Slot{Start: c.Start, End: c.End})
	}
	return b, nil
}

type fakeAppointments []model.Interval

func (f fakeAppointments) ListActiveIntervals(context.Context, string, time.Time, time.Time) ([]model.Interval, error) {
	return f, nil
}

type fakeFetcher struct {
	intervals []model.Interval
	err       error
}

func (f *fakeFetcher) Configured() bool { return true }

func (f *fakeFetcher) Appointments(context.Context, model.ExternalRef, time.Time, time.Time, *time.Location) ([]model.Interval, error) {
	return f.intervals, f.err
}

type fakeReconciler struct {
	calls     int
	window    model.Interval
	intervals []model.Interval
	release   bool
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ string, window model.Interval, iv []model.Interval, release bool) (occupancy.Result, error) {
	f.calls++
	f.window = window
	f.intervals = iv
	f.release = release
	return occupancy.Result{Marked: int64(len(iv))}, nil
}

type fakeEvents []outbox.Event

func (f *fakeEvents) Insert(_ context.Context, e outbox.Event) error {
	*f = append(*f, e)
	return nil
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string) {}

var now = time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC) // Monday

func weekdays() calendar.WeeklyHours {
	w := calendar.ClosedWeek()
	for wd := time.Monday; wd <= time.Friday; wd++ {
		w[wd] = calendar.DayHours{Open: calendar.MustTimeOfDay("09:00"), Close: calendar.MustTimeOfDay("12:00")}
	}
	return w
}

type harness struct {
	job        *Job
	slots      *fakeSlots
	fetcher    *fakeFetcher
	reconciler *fakeReconciler
	events     *fakeEvents
}

func newHarness(studio model.Studio, local []model.Interval) harness {
	h := harness{
		slots:      &fakeSlots{byStart: map[time.Time]bool{}},
		fetcher:    &fakeFetcher{},
		reconciler: &fakeReconciler{},
		events:     &fakeEvents{},
	}
	h.job = New(Deps{
		Studios:      fakeStudios{studio.ID: studio},
		Slots:        h.slots,
		Appointments: fakeAppointments(local),
		Fetcher:      h.fetcher,
		Reconciler:   h.reconciler,
		Events:       h.events,
		Cache:        nopInvalidator{},
	}, Config{WindowDays: 7, DefaultSlot: time.Hour, ReleaseFreed: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func linkedStudio() model.Studio {
	return model.Studio{
		ID:       "s1",
		Location: time.UTC,
		Hours:    weekdays(),
		HasHours: true,
		External: model.ExternalRef{PracticeID: "p1", ArchiveID: "a1"},
	}
}

func TestRun_ReconcilesLocalAndExternal(t *testing.T) {
	local := []model.Interval{{Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)}}
	h := newHarness(linkedStudio(), local)
	h.fetcher.intervals = []model.Interval{{Start: now.Add(27 * time.Hour), End: now.Add(28 * time.Hour)}}

	res, err := h.job.Run(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Monday to Friday, 09:00-12:00, hourly.
	if res.Inserted != 15 {
		t.Fatalf("expected 15 inserted slots, got %d", res.Inserted)
	}
	if !res.Reconciled || len(h.reconciler.intervals) != 2 || !h.reconciler.release {
		t.Fatalf("expected reconcile with both sources and release, got %+v", h.reconciler)
	}
	if len(*h.events) != 1 || (*h.events)[0].EventType != outbox.TypeSyncCompleted {
		t.Fatalf("expected a completed event, got %+v", *h.events)
	}
	if !res.WindowEnd.Equal(res.WindowStart.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected window %s - %s", res.WindowStart, res.WindowEnd)
	}
}

func TestRun_ExternalFailureKeepsUpsertsAndSkipsReconcile(t *testing.T) {
	h := newHarness(linkedStudio(), nil)
	h.fetcher.err = &apperr.ExternalServiceError{Op: "list appointments", StatusCode: 503, Attempts: 4, Err: errors.New("unavailable")}

	res, err := h.job.Run(context.Background(), "s1", now)
	if !apperr.IsExternal(err) {
		t.Fatalf("expected external error to surface, got %v", err)
	}
	if h.slots.calls != 1 || res.Inserted != 15 {
		t.Fatalf("expected upserts to stand, got calls=%d inserted=%d", h.slots.calls, res.Inserted)
	}
	if h.reconciler.calls != 0 || res.Reconciled {
		t.Fatal("occupancy must be left untouched when the external read fails")
	}
	if len(*h.events) != 1 || (*h.events)[0].EventType != outbox.TypeSyncFailed {
		t.Fatalf("expected a failed event, got %+v", *h.events)
	}
}

func TestRun_UnlinkedStudioUsesLocalOnly(t *testing.T) {
	studio := linkedStudio()
	studio.External = model.ExternalRef{}
	h := newHarness(studio, []model.Interval{{Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)}})

	res, err := h.job.Run(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.ExternalSkipped || len(h.reconciler.intervals) != 1 || !h.reconciler.release {
		t.Fatalf("unexpected local-only reconcile: %+v", h.reconciler)
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	h := newHarness(linkedStudio(), nil)
	if _, err := h.job.Run(context.Background(), "s1", now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := h.job.Run(context.Background(), "s1", now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Inserted != 0 || res.Updated != 15 {
		t.Fatalf("expected the second pass to only refresh, got %+v", res)
	}
}

func TestRun_StudioWithoutHours(t *testing.T) {
	studio := linkedStudio()
	studio.HasHours = false
	h := newHarness(studio, nil)

	if _, err := h.job.Run(context.Background(), "s1", now); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if h.slots.calls != 0 {
		t.Fatal("expected no writes")
	}
}

func TestGenerate_Validation(t *testing.T) {
	h := newHarness(linkedStudio(), nil)
	ctx := context.Background()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	if _, err := h.job.Generate(ctx, "", day, day, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing studio, got %v", err)
	}
	if _, err := h.job.Generate(ctx, "s1", day, day.AddDate(0, 0, -1), 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
	if h.slots.calls != 0 {
		t.Fatal("validation must reject before any write")
	}
}

func TestGenerate_CustomDuration(t *testing.T) {
	h := newHarness(linkedStudio(), nil)
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	batch, err := h.job.Generate(context.Background(), "s1", day, day, 90)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 09:00-10:30 and 10:30-12:00.
	if batch.Inserted != 2 {
		t.Fatalf("expected 2 slots, got %d", batch.Inserted)
	}
	for _, s := range batch.Saved {
		if s.End.Sub(s.Start) != 90*time.Minute {
			t.Fatalf("unexpected duration %s", s.End.Sub(s.Start))
		}
	}
}

func TestRunAll_ContinuesPastFailures(t *testing.T) {
	h := newHarness(linkedStudio(), nil)
	h.fetcher.err = &apperr.ExternalServiceError{Op: "list appointments", Err: errors.New("down")}

	if err := h.job.RunAll(context.Background(), now); err != nil {
		t.Fatalf("run all: %v", err)
	}
	if h.slots.calls != 1 {
		t.Fatalf("expected the linked studio to be attempted, got %d", h.slots.calls)
	}
}

func TestReconcileLocal_DefaultWindowFollowsStudioClock(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	studio := model.Studio{ID: "s2", Location: tokyo, Hours: weekdays(), HasHours: true}
	h := newHarness(studio, nil)

	// 20:00 UTC Monday is already Tuesday in Tokyo.
	at := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	if _, err := h.job.ReconcileLocal(context.Background(), "s2", time.Time{}, time.Time{}, at); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	want := time.Date(2026, 10, 20, 0, 0, 0, 0, tokyo)
	if !h.reconciler.window.Start.Equal(want) || !h.reconciler.window.End.Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected window %s - %s", h.reconciler.window.Start, h.reconciler.window.End)
	}
	if !h.reconciler.release {
		t.Fatal("unlinked studio should release freed slots")
	}
}

func TestReconcileLocal_ExplicitDatesAndValidation(t *testing.T) {
	studio := model.Studio{ID: "s2", Location: time.UTC, Hours: weekdays(), HasHours: true}
	h := newHarness(studio, nil)
	ctx := context.Background()

	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if _, err := h.job.ReconcileLocal(ctx, "s2", from, from.AddDate(0, 0, 1), now); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !h.reconciler.window.End.Equal(from.AddDate(0, 0, 2)) {
		t.Fatalf("expected an inclusive end date, got %s", h.reconciler.window.End)
	}
	if _, err := h.job.ReconcileLocal(ctx, "s2", from, time.Time{}, now); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for a half-open range, got %v", err)
	}
}
