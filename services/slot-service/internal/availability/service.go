// Package availability answers "next free slots" queries. It never writes slots.
package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type SlotLister interface {
	ListAndBucket(ctx context.Context, studioID string, now, from, to time.Time, threshold calendar.TimeOfDay, perBucket int, loc *time.Location) (calendar.Buckets[model.Slot], error)
}

type StudioGetter interface {
	Get(ctx context.Context, id string) (model.Studio, []calendar.ParseWarning, error)
}

type SlotView struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Result struct {
	StudioID        string     `json:"studio_id"`
	Threshold       string     `json:"threshold"`
	BeforeThreshold []SlotView `json:"before_threshold"`
	AfterThreshold  []SlotView `json:"after_threshold"`
}

// Config carries the query shape. A nil Threshold means 13:00; midnight is a
// valid threshold and puts every slot in the after bucket.
type Config struct {
	LookaheadDays int
	Threshold     *calendar.TimeOfDay
	PerBucket     int
}

var defaultThreshold = calendar.MustTimeOfDay("13:00")

type Service struct {
	slots     SlotLister
	studios   StudioGetter
	cache     Cache
	lookahead int
	threshold calendar.TimeOfDay
	perBucket int
	logger    *slog.Logger
}

func NewService(slots SlotLister, studios StudioGetter, cache Cache, cfg Config, logger *slog.Logger) *Service {
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 7
	}
	if cfg.PerBucket <= 0 {
		cfg.PerBucket = 2
	}
	threshold := defaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{
		slots:     slots,
		studios:   studios,
		cache:     cache,
		lookahead: cfg.LookaheadDays,
		threshold: threshold,
		perBucket: cfg.PerBucket,
		logger:    logger,
	}
}

// NextAvailable returns up to PerBucket free slots starting before the
// threshold and up to PerBucket at or after it, within the lookahead window
// from now. The threshold is read on the studio's local clock.
func (s *Service) NextAvailable(ctx context.Context, studioID string, now time.Time) (Result, error) {
	if studioID == "" {
		return Result{}, apperr.Validation("studio_id is required")
	}
	if res, ok, err := s.cache.Get(ctx, studioID); err != nil {
		s.logger.Warn("availability cache read failed", "studio_id", studioID, "err", err)
	} else if ok && !startedBy(res, now) {
		return res, nil
	}

	studio, _, err := s.studios.Get(ctx, studioID)
	if err != nil {
		return Result{}, err
	}
	buckets, err := s.slots.ListAndBucket(ctx, studioID, now, now, now.AddDate(0, 0, s.lookahead), s.threshold, s.perBucket, studio.Loc())
	if err != nil {
		return Result{}, err
	}

	res := Result{
		StudioID:        studioID,
		Threshold:       s.threshold.String(),
		BeforeThreshold: views(buckets.Before),
		AfterThreshold:  views(buckets.After),
	}
	if err := s.cache.Set(ctx, studioID, res); err != nil {
		s.logger.Warn("availability cache write failed", "studio_id", studioID, "err", err)
	}
	return res, nil
}

// Invalidate drops the cached answer after the studio's slots changed.
func (s *Service) Invalidate(ctx context.Context, studioID string) {
	if err := s.cache.Invalidate(ctx, studioID); err != nil {
		s.logger.Warn("availability cache invalidate failed", "studio_id", studioID, "err", err)
	}
}

// startedBy reports whether a cached answer offers a slot that already began.
// Such an answer is recomputed rather than trimmed, so the bucket refills.
func startedBy(res Result, now time.Time) bool {
	for _, bucket := range [][]SlotView{res.BeforeThreshold, res.AfterThreshold} {
		for _, v := range bucket {
			if v.Start.Before(now) {
				return true
			}
		}
	}
	return false
}

func views(slots []model.Slot) []SlotView {
	out := make([]SlotView, 0, len(slots))
	for _, sl := range slots {
		out = append(out, SlotView{ID: sl.ID, Start: sl.Start, End: sl.End})
	}
	return out
}
