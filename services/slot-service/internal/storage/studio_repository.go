package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotsync/libs/db"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

type StudioRepository struct {
	pool *db.Pool
}

func NewStudioRepository(pool *db.Pool) *StudioRepository {
	return &StudioRepository{pool: pool}
}

// Get loads a studio and parses its opening hours. Entries that cannot be
// parsed come back as warnings and leave their weekday closed.
func (r *StudioRepository) Get(ctx context.Context, id string) (model.Studio, []calendar.ParseWarning, error) {
	var (
		s        model.Studio
		hours    []byte
		services []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, opening_hours, services, slot_minutes,
			external_practice_id, external_archive_id
		FROM studios
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Timezone, &hours, &services, &s.SlotMinutes,
		&s.External.PracticeID, &s.External.ArchiveID)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Studio{}, nil, apperr.NotFound("studio %q", id)
		}
		return model.Studio{}, nil, err
	}

	var warnings []calendar.ParseWarning
	s.Location, err = calendar.LoadLocation(s.Timezone)
	if err != nil {
		warnings = append(warnings, calendar.ParseWarning{Key: "timezone", Value: s.Timezone, Err: err})
		s.Location = time.UTC
	}

	week, ok, hourWarnings := DecodeOpeningHours(hours)
	s.Hours, s.HasHours = week, ok
	warnings = append(warnings, hourWarnings...)

	if len(services) > 0 {
		if err := json.Unmarshal(services, &s.Services); err != nil {
			warnings = append(warnings, calendar.ParseWarning{Key: "services", Value: string(services), Err: err})
		}
	}
	return s, warnings, nil
}

// Upsert creates or replaces a studio's configuration.
func (r *StudioRepository) Upsert(ctx context.Context, s model.Studio) error {
	var hours any
	if s.HasHours {
		raw, err := json.Marshal(s.Hours.Text())
		if err != nil {
			return err
		}
		hours = raw
	}
	services := s.Services
	if services == nil {
		services = []model.Service{}
	}
	servicesRaw, err := json.Marshal(services)
	if err != nil {
		return err
	}
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO studios (id, name, timezone, opening_hours, services, slot_minutes, external_practice_id, external_archive_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			opening_hours = EXCLUDED.opening_hours,
			services = EXCLUDED.services,
			slot_minutes = EXCLUDED.slot_minutes,
			external_practice_id = EXCLUDED.external_practice_id,
			external_archive_id = EXCLUDED.external_archive_id,
			updated_at = now()
	`, s.ID, s.Name, tz, hours, servicesRaw, s.SlotMinutes, s.External.PracticeID, s.External.ArchiveID)
	return err
}

// ListExternalIDs returns the studios linked to the external booking platform.
func (r *StudioRepository) ListExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM studios
		WHERE external_practice_id <> ''
			AND external_archive_id <> ''
			AND opening_hours IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// DecodeOpeningHours turns the stored JSON object (weekday name to "HH:MM-HH:MM"
// or "closed") into a WeeklyHours. ok is false when nothing is configured.
func DecodeOpeningHours(raw []byte) (calendar.WeeklyHours, bool, []calendar.ParseWarning) {
	if len(raw) == 0 || string(raw) == "null" {
		return calendar.ClosedWeek(), false, nil
	}
	var entries map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return calendar.ClosedWeek(), false, []calendar.ParseWarning{{Key: "opening_hours", Value: string(raw), Err: err}}
	}
	if len(entries) == 0 {
		return calendar.ClosedWeek(), false, nil
	}

	text := make(map[string]string, len(entries))
	var warnings []calendar.ParseWarning
	for day, v := range entries {
		switch val := v.(type) {
		case string:
			text[day] = val
		case nil:
			text[day] = "closed"
		default:
			warnings = append(warnings, calendar.ParseWarning{Key: day, Value: fmt.Sprint(val), Err: fmt.Errorf("expected a string")})
		}
	}
	week, parseWarnings := calendar.ParseWeeklyHours(text)
	return week, true, append(warnings, parseWarnings...)
}
