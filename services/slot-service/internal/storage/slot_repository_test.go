package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/slotsync/libs/db"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
)

func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	_ = godotenv.Load("../../../../.env")
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.PoolConfig{MaxConns: 4})
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func testStudioID() string {
	return "studio-" + uuid.NewString()[:8]
}

func TestSlotRepository_UpsertKeepsBooked(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	repo := NewSlotRepository(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	studio := testStudioID()

	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 2)
	cands := []calendar.Candidate{
		{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)},
	}

	first, err := repo.UpsertMany(ctx, studio, cands)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Inserted != 2 || first.Updated != 0 {
		t.Fatalf("expected 2 inserts, got %+v", first)
	}

	n, err := repo.SetBooked(ctx, studio, []string{first.Saved[0].ID}, true)
	if err != nil || n != 1 {
		t.Fatalf("set booked: n=%d err=%v", n, err)
	}

	second, err := repo.UpsertMany(ctx, studio, cands)
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 2 {
		t.Fatalf("expected 2 updates, got %+v", second)
	}
	if !second.Saved[0].Booked {
		t.Fatal("regeneration must not reset a booked slot")
	}
	if second.Saved[0].ID != first.Saved[0].ID {
		t.Fatal("expected the same row for the same start")
	}

	free, err := repo.ListUnbooked(ctx, studio, day, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(free) != 1 || !free[0].Start.Equal(cands[1].Start) {
		t.Fatalf("expected only the 10:00 slot to be free, got %v", free)
	}
}

func TestSlotRepository_ListUnbookedSkipsPast(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	repo := NewSlotRepository(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	studio := testStudioID()

	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	now := day.Add(10*time.Hour + time.Minute)

	var cands []calendar.Candidate
	for h := 9; h < 15; h++ {
		start := day.Add(time.Duration(h) * time.Hour)
		cands = append(cands, calendar.Candidate{Start: start, End: start.Add(time.Hour)})
	}
	if _, err := repo.UpsertMany(ctx, studio, cands); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	buckets, err := repo.ListAndBucket(ctx, studio, now, day, day.AddDate(0, 0, 7), calendar.MustTimeOfDay("13:00"), 2, time.UTC)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	// 09:00 and 10:00 are in the past.
	if len(buckets.Before) != 2 || buckets.Before[0].Start.Hour() != 11 || buckets.Before[1].Start.Hour() != 12 {
		t.Fatalf("unexpected before bucket: %v", buckets.Before)
	}
	if len(buckets.After) != 2 || buckets.After[0].Start.Hour() != 13 {
		t.Fatalf("unexpected after bucket: %v", buckets.After)
	}
}

func TestAppointmentRepository_ListActiveIntervals(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	repo := NewAppointmentRepository(pool)
	studio := testStudioID()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	appts := []model.Appointment{
		{ID: uuid.NewString(), StudioID: studio, Start: day.Add(9*time.Hour + 30*time.Minute), DurationMinutes: 45, Status: model.AppointmentBooked},
		{ID: uuid.NewString(), StudioID: studio, Start: day.Add(11 * time.Hour), DurationMinutes: 30, Status: model.AppointmentCancelled},
	}
	for _, a := range appts {
		if err := repo.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := repo.ListActiveIntervals(ctx, studio, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || !got[0].End.Equal(day.Add(10*time.Hour+15*time.Minute)) {
		t.Fatalf("expected one active 09:30-10:15 interval, got %v", got)
	}
}

func TestSlotRepository_ReleaseUncoveredKeepsLiveAppointments(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	slots := NewSlotRepository(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	appts := NewAppointmentRepository(pool)
	studio := testStudioID()
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	var cands []calendar.Candidate
	for h := 9; h < 11; h++ {
		start := day.Add(time.Duration(h) * time.Hour)
		cands = append(cands, calendar.Candidate{Start: start, End: start.Add(time.Hour)})
	}
	batch, err := slots.UpsertMany(ctx, studio, cands)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ids := []string{batch.Saved[0].ID, batch.Saved[1].ID}
	if _, err := slots.SetBooked(ctx, studio, ids, true); err != nil {
		t.Fatalf("set booked: %v", err)
	}
	// Booked after the caller decided both slots were free.
	if err := appts.Upsert(ctx, model.Appointment{
		ID: uuid.NewString(), StudioID: studio, Start: day.Add(10*time.Hour + 15*time.Minute), DurationMinutes: 30, Status: model.AppointmentBooked,
	}); err != nil {
		t.Fatalf("appointment: %v", err)
	}

	n, err := slots.ReleaseUncovered(ctx, studio, ids)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the 09:00 slot released, got %d", n)
	}
	free, err := slots.ListUnbooked(ctx, studio, day, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(free) != 1 || free[0].ID != ids[0] {
		t.Fatalf("expected 09:00 free and 10:00 held, got %v", free)
	}
}
