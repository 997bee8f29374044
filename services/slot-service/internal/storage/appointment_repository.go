package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotsync/libs/db"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// Upsert stores the latest known state of an appointment.
func (r *AppointmentRepository) Upsert(ctx context.Context, a model.Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, studio_id, patient_id, start_time, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET studio_id = EXCLUDED.studio_id,
			patient_id = EXCLUDED.patient_id,
			start_time = EXCLUDED.start_time,
			duration_minutes = EXCLUDED.duration_minutes,
			status = EXCLUDED.status,
			updated_at = now()
	`, a.ID, a.StudioID, a.PatientID, a.Start, a.DurationMinutes, string(a.Status))
	return err
}

// ListActiveIntervals returns [start, start+duration) of every non-cancelled
// appointment of the studio overlapping [from, to).
func (r *AppointmentRepository) ListActiveIntervals(ctx context.Context, studioID string, from, to time.Time) ([]model.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, duration_minutes
		FROM appointments
		WHERE studio_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND start_time + make_interval(mins => duration_minutes) > $2
		ORDER BY start_time ASC
	`, studioID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Interval
	for rows.Next() {
		var start time.Time
		var minutes int
		if err := rows.Scan(&start, &minutes); err != nil {
			return nil, err
		}
		out = append(out, model.Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
