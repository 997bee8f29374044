package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotsync/libs/db"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type SlotRepository struct {
	pool   *db.Pool
	logger *slog.Logger
}

func NewSlotRepository(pool *db.Pool, logger *slog.Logger) *SlotRepository {
	return &SlotRepository{pool: pool, logger: logger}
}

// PartialWriteWarning records one slot of a batch that could not be written.
type PartialWriteWarning struct {
	Start time.Time
	Err   error
}

type UpsertBatch struct {
	Saved    []model.Slot
	Inserted int
	Updated  int
	Warnings []PartialWriteWarning
}

const slotColumns = `id::text, studio_id, start_time, end_time, booked, created_at, updated_at`

// Upsert inserts the slot unbooked, or refreshes end_time when (studio_id,
// start_time) already exists. booked is never written here, so re-running
// generation over a range cannot free an occupied slot.
func (r *SlotRepository) Upsert(ctx context.Context, studioID string, c calendar.Candidate) (model.Slot, bool, error) {
	var s model.Slot
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO slots (studio_id, start_time, end_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (studio_id, start_time) DO UPDATE
		SET end_time = EXCLUDED.end_time,
			updated_at = now()
		RETURNING `+slotColumns+`, (xmax = 0) AS inserted
	`, studioID, c.Start, c.End).Scan(
		&s.ID, &s.StudioID, &s.Start, &s.End, &s.Booked, &s.CreatedAt, &s.UpdatedAt, &inserted,
	)
	if err != nil {
		return model.Slot{}, false, err
	}
	return s, inserted, nil
}

// UpsertMany writes candidates one by one. A failing row is logged and
// skipped; only context cancellation stops the batch.
func (r *SlotRepository) UpsertMany(ctx context.Context, studioID string, candidates []calendar.Candidate) (UpsertBatch, error) {
	out := UpsertBatch{Saved: make([]model.Slot, 0, len(candidates))}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		s, inserted, err := r.Upsert(ctx, studioID, c)
		if err != nil {
			r.logger.Warn("slot upsert skipped",
				"studio_id", studioID,
				"start", c.Start.Format(time.RFC3339),
				"err", err,
			)
			out.Warnings = append(out.Warnings, PartialWriteWarning{Start: c.Start, Err: err})
			continue
		}
		if inserted {
			out.Inserted++
		} else {
			out.Updated++
		}
		out.Saved = append(out.Saved, s)
	}
	return out, nil
}

// ListUnbooked returns free slots starting within [from, to] and not before
// now, ascending by start.
func (r *SlotRepository) ListUnbooked(ctx context.Context, studioID string, now, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE studio_id = $1
			AND NOT booked
			AND start_time >= $2
			AND start_time >= $3
			AND start_time <= $4
		ORDER BY start_time ASC
	`, studioID, now, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// ListAndBucket splits ListUnbooked around a local time-of-day threshold and
// keeps at most perBucket slots on each side.
func (r *SlotRepository) ListAndBucket(ctx context.Context, studioID string, now, from, to time.Time, threshold calendar.TimeOfDay, perBucket int, loc *time.Location) (calendar.Buckets[model.Slot], error) {
	slots, err := r.ListUnbooked(ctx, studioID, now, from, to)
	if err != nil {
		return calendar.Buckets[model.Slot]{}, err
	}
	return calendar.SplitByDayPart(slots, slotStart, threshold, perBucket, loc), nil
}

// ListOverlapping returns every slot, booked or not, sharing time with [from, to).
func (r *SlotRepository) ListOverlapping(ctx context.Context, studioID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE studio_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, studioID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// SetBooked flips the booked flag on the given slots and returns how many rows
// actually changed. Rows already in the requested state are untouched.
func (r *SlotRepository) SetBooked(ctx context.Context, studioID string, ids []string, booked bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET booked = $3,
			updated_at = now()
		WHERE studio_id = $1
			AND id = ANY($2::uuid[])
			AND booked <> $3
	`, studioID, ids, booked)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseUncovered clears booked on the given slots unless a live local
// appointment overlaps the slot when the row is written. An appointment stored
// after the caller read its intervals therefore keeps its slot.
func (r *SlotRepository) ReleaseUncovered(ctx context.Context, studioID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots s
		SET booked = false,
			updated_at = now()
		WHERE s.studio_id = $1
			AND s.id = ANY($2::uuid[])
			AND s.booked
			AND NOT EXISTS (
				SELECT 1
				FROM appointments a
				WHERE a.studio_id = s.studio_id
					AND a.status <> 'cancelled'
					AND a.start_time < s.end_time
					AND a.start_time + make_interval(mins => a.duration_minutes) > s.start_time
			)
	`, studioID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func slotStart(s model.Slot) time.Time { return s.Start }

func collectSlots(rows pgx.Rows) ([]model.Slot, error) {
	defer rows.Close()
	slots := []model.Slot{}
	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.ID, &s.StudioID, &s.Start, &s.End, &s.Booked, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
