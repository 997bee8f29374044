// Package syncjob generates slots from opening hours and reconciles their
// occupancy against local and external appointments.
package syncjob

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/slotsync/libs/otel"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/occupancy"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/outbox"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxGenerateDays = 92

type Studios interface {
	Get(ctx context.Context, id string) (model.Studio, []calendar.ParseWarning, error)
	ListExternalIDs(ctx context.Context) ([]string, error)
}

type SlotWriter interface {
	UpsertMany(ctx context.Context, studioID string, candidates []calendar.Candidate) (storage.UpsertBatch, error)
}

type Appointments interface {
	ListActiveIntervals(ctx context.Context, studioID string, from, to time.Time) ([]model.Interval, error)
}

type Fetcher interface {
	Configured() bool
	Appointments(ctx context.Context, ref model.ExternalRef, from, to time.Time, loc *time.Location) ([]model.Interval, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, studioID string, window model.Interval, intervals []model.Interval, release bool) (occupancy.Result, error)
}

type EventWriter interface {
	Insert(ctx context.Context, evt outbox.Event) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, studioID string)
}

type Config struct {
	WindowDays   int
	DefaultSlot  time.Duration
	ReleaseFreed bool
}

type Deps struct {
	Studios      Studios
	Slots        SlotWriter
	Appointments Appointments
	Fetcher      Fetcher
	Reconciler   Reconciler
	Events       EventWriter
	Cache        Invalidator
}

type Job struct {
	Deps
	cfg    Config
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Job {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.DefaultSlot <= 0 {
		cfg.DefaultSlot = time.Hour
	}
	return &Job{Deps: deps, cfg: cfg, logger: logger}
}

// Result summarises one pass for a studio. It is returned even when the
// external fetch failed, describing what was done before the failure.
type Result struct {
	StudioID        string           `json:"studio_id"`
	WindowStart     time.Time        `json:"window_start"`
	WindowEnd       time.Time        `json:"window_end"`
	Inserted        int              `json:"inserted"`
	Updated         int              `json:"updated"`
	Skipped         int              `json:"skipped"`
	Occupancy       occupancy.Result `json:"occupancy"`
	ExternalSkipped bool             `json:"external_skipped"`
	Reconciled      bool             `json:"reconciled"`
}

// Generate expands the studio's opening hours over the calendar dates from
// through to and upserts the candidates. minutes <= 0 uses the studio's slot
// length.
func (j *Job) Generate(ctx context.Context, studioID string, from, to time.Time, minutes int) (storage.UpsertBatch, error) {
	if studioID == "" {
		return storage.UpsertBatch{}, apperr.Validation("studio_id is required")
	}
	if from.IsZero() || to.IsZero() {
		return storage.UpsertBatch{}, apperr.Validation("start_date and end_date are required")
	}
	if to.Before(from) {
		return storage.UpsertBatch{}, apperr.Validation("end_date is before start_date")
	}
	if to.Sub(from) > maxGenerateDays*24*time.Hour {
		return storage.UpsertBatch{}, apperr.Validation("date range exceeds %d days", maxGenerateDays)
	}

	studio, err := j.loadStudio(ctx, studioID)
	if err != nil {
		return storage.UpsertBatch{}, err
	}
	d := studio.SlotDuration(j.cfg.DefaultSlot)
	if minutes > 0 {
		d = time.Duration(minutes) * time.Minute
	}
	batch, err := j.Slots.UpsertMany(ctx, studioID, calendar.Expand(studio.Hours, from, to, d, studio.Loc()))
	if err != nil {
		return batch, err
	}
	j.Cache.Invalidate(ctx, studioID)
	return batch, nil
}

// Seed generates the rolling window starting today on the studio's clock.
func (j *Job) Seed(ctx context.Context, studioID string, now time.Time) (storage.UpsertBatch, error) {
	if studioID == "" {
		return storage.UpsertBatch{}, apperr.Validation("studio_id is required")
	}
	studio, err := j.loadStudio(ctx, studioID)
	if err != nil {
		return storage.UpsertBatch{}, err
	}
	first, last, _ := j.window(now, studio.Loc())
	return j.Generate(ctx, studioID, first, last, 0)
}

// ReconcileLocal marks slots from locally known appointments over the calendar
// dates from through to. Zero dates select the rolling window starting today
// on the studio's clock. Freed slots are released only when the studio has no
// external calendar, since local appointments are then the complete picture.
func (j *Job) ReconcileLocal(ctx context.Context, studioID string, from, to, now time.Time) (occupancy.Result, error) {
	if studioID == "" {
		return occupancy.Result{}, apperr.Validation("studio_id is required")
	}
	if from.IsZero() != to.IsZero() {
		return occupancy.Result{}, apperr.Validation("start_date and end_date go together")
	}
	if to.Before(from) {
		return occupancy.Result{}, apperr.Validation("end_date is before start_date")
	}
	studio, _, err := j.Studios.Get(ctx, studioID)
	if err != nil {
		return occupancy.Result{}, err
	}
	loc := studio.Loc()
	var window model.Interval
	if from.IsZero() {
		_, _, window = j.window(now, loc)
	} else {
		window = model.Interval{Start: onDate(from, loc, 0), End: onDate(to, loc, 1)}
	}

	local, err := j.Appointments.ListActiveIntervals(ctx, studioID, window.Start, window.End)
	if err != nil {
		return occupancy.Result{}, err
	}
	res, err := j.Reconciler.Reconcile(ctx, studioID, window, local, j.cfg.ReleaseFreed && !studio.External.Configured())
	if err != nil {
		return res, err
	}
	j.Cache.Invalidate(ctx, studioID)
	return res, nil
}

// Run performs one sync pass: expand and upsert the window, read the
// authoritative appointments, then reconcile occupancy. If the external read
// fails the upserts stand, occupancy is left as it was and the error is
// returned with the partial result.
func (j *Job) Run(ctx context.Context, studioID string, now time.Time) (res Result, err error) {
	ctx, span := otelx.Tracer("syncjob").Start(ctx, "syncjob.run")
	span.SetAttributes(attribute.String("studio.id", studioID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if studioID == "" {
		return Result{}, apperr.Validation("studio_id is required")
	}
	studio, err := j.loadStudio(ctx, studioID)
	if err != nil {
		return Result{}, err
	}
	loc := studio.Loc()
	first, last, window := j.window(now, loc)
	res = Result{StudioID: studioID, WindowStart: window.Start, WindowEnd: window.End}

	cands := calendar.Expand(studio.Hours, first, last, studio.SlotDuration(j.cfg.DefaultSlot), loc)
	batch, err := j.Slots.UpsertMany(ctx, studioID, cands)
	res.Inserted, res.Updated, res.Skipped = batch.Inserted, batch.Updated, len(batch.Warnings)
	if err != nil {
		return res, err
	}
	j.Cache.Invalidate(ctx, studioID)

	local, err := j.Appointments.ListActiveIntervals(ctx, studioID, window.Start, window.End)
	if err != nil {
		return res, err
	}

	intervals := local
	release := j.cfg.ReleaseFreed
	if !studio.External.Configured() || j.Fetcher == nil || !j.Fetcher.Configured() {
		res.ExternalSkipped = true
		// A linked studio we cannot query has an incomplete picture.
		release = release && !studio.External.Configured()
	} else {
		external, ferr := j.Fetcher.Appointments(ctx, studio.External, first, last, loc)
		if ferr != nil {
			j.logger.Error("external appointments unavailable, occupancy left unchanged",
				"studio_id", studioID, "err", ferr)
			j.emit(ctx, outbox.TypeSyncFailed, res, ferr, now)
			return res, ferr
		}
		intervals = append(intervals, external...)
	}

	occ, err := j.Reconciler.Reconcile(ctx, studioID, window, intervals, release)
	if err != nil {
		return res, err
	}
	res.Occupancy = occ
	res.Reconciled = true
	j.Cache.Invalidate(ctx, studioID)

	span.SetAttributes(
		attribute.Int("slots.inserted", res.Inserted),
		attribute.Int64("slots.marked", occ.Marked),
		attribute.Int64("slots.released", occ.Released),
	)
	j.logger.Info("slot sync completed",
		"studio_id", studioID,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"marked", occ.Marked,
		"released", occ.Released,
		"external_skipped", res.ExternalSkipped,
	)
	j.emit(ctx, outbox.TypeSyncCompleted, res, nil, now)
	return res, nil
}

// RunAll syncs every studio linked to the external platform, one at a time.
// A failing studio does not stop the others.
func (j *Job) RunAll(ctx context.Context, now time.Time) error {
	ids, err := j.Studios.ListExternalIDs(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := j.Run(ctx, id, now); err != nil {
			failed++
			j.logger.Error("studio sync failed", "studio_id", id, "err", err)
		}
	}
	j.logger.Info("scheduled sync finished", "studios", len(ids), "failed", failed)
	return nil
}

func (j *Job) loadStudio(ctx context.Context, studioID string) (model.Studio, error) {
	studio, warnings, err := j.Studios.Get(ctx, studioID)
	if err != nil {
		return model.Studio{}, err
	}
	for _, w := range warnings {
		j.logger.Warn("studio configuration entry ignored", "studio_id", studioID, "key", w.Key, "value", w.Value, "err", w.Err)
	}
	if !studio.HasHours {
		return model.Studio{}, apperr.NotFound("studio %q has no opening hours", studioID)
	}
	return studio, nil
}

// window returns the first and last calendar dates of the rolling window and
// the half-open instant range they cover on the studio's clock.
func (j *Job) window(now time.Time, loc *time.Location) (time.Time, time.Time, model.Interval) {
	today := startOfDay(now, loc, 0)
	last := today.AddDate(0, 0, j.cfg.WindowDays-1)
	return today, last, model.Interval{Start: today, End: today.AddDate(0, 0, j.cfg.WindowDays)}
}

func (j *Job) emit(ctx context.Context, eventType string, res Result, cause error, now time.Time) {
	if j.Events == nil {
		return
	}
	p := outbox.SyncPayload{
		StudioID:        res.StudioID,
		WindowStart:     res.WindowStart,
		WindowEnd:       res.WindowEnd,
		SlotsInserted:   res.Inserted,
		SlotsUpdated:    res.Updated,
		SlotsMarked:     res.Occupancy.Marked,
		SlotsReleased:   res.Occupancy.Released,
		ExternalSkipped: res.ExternalSkipped,
		OccurredAt:      now.UTC(),
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	evt, err := outbox.NewSyncEvent(eventType, p)
	if err == nil {
		err = j.Events.Insert(ctx, evt)
	}
	if err != nil {
		j.logger.Warn("sync event not recorded", "studio_id", res.StudioID, "event_type", eventType, "err", err)
	}
}

// startOfDay is midnight in loc of the day t falls on there, shifted by days.
func startOfDay(t time.Time, loc *time.Location, days int) time.Time {
	return onDate(t.In(loc), loc, days)
}

// onDate is midnight in loc of t's calendar date as written, shifted by days.
func onDate(t time.Time, loc *time.Location, days int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, loc)
}
