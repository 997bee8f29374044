package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotsync/libs/config"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
)

type settings struct {
	ServiceName   string `envconfig:"SERVICE_NAME" default:"slot-service"`
	Port          string `envconfig:"PORT" default:"8090"`
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	DBAutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	KafkaBrokers      string   `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID      string   `envconfig:"KAFKA_GROUP_ID" default:"slot-service"`
	AppointmentTopics []string `envconfig:"KAFKA_APPOINTMENT_TOPICS" default:"booking.appointment.booked.v1,booking.appointment.cancelled.v1"`

	DefaultSlotMinutes int           `envconfig:"DEFAULT_SLOT_MINUTES" default:"60"`
	LookaheadDays      int           `envconfig:"LOOKAHEAD_DAYS" default:"7"`
	DaypartThreshold   string        `envconfig:"DAYPART_THRESHOLD" default:"13:00"`
	SlotsPerBucket     int           `envconfig:"SLOTS_PER_BUCKET" default:"2"`
	CacheTTL           time.Duration `envconfig:"NEXT_AVAILABLE_CACHE_TTL" default:"30s"`
	ReleaseFreedSlots  bool          `envconfig:"RELEASE_FREED_SLOTS" default:"true"`
	SyncSchedule       string        `envconfig:"SYNC_SCHEDULE"`

	BookingAPIBaseURL     string        `envconfig:"BOOKING_API_BASE_URL"`
	BookingAPIKey         string        `envconfig:"BOOKING_API_KEY"`
	BookingAPIKeyHeader   string        `envconfig:"BOOKING_API_KEY_HEADER" default:"x-api-key"`
	BookingAPITimeout     time.Duration `envconfig:"BOOKING_API_TIMEOUT" default:"5s"`
	BookingAPIMaxAttempts int           `envconfig:"BOOKING_API_MAX_ATTEMPTS" default:"4"`

	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	BodyLimitBytes     int64         `envconfig:"BODY_LIMIT_BYTES" default:"1048576"`

	threshold calendar.TimeOfDay
}

func loadSettings() (settings, error) {
	var s settings
	if err := config.Load("", &s); err != nil {
		return s, err
	}
	if err := config.ValidPort("PORT", s.Port); err != nil {
		return s, err
	}
	th, err := calendar.ParseTimeOfDay(s.DaypartThreshold)
	if err != nil || th == calendar.EndOfDay {
		return s, fmt.Errorf("DAYPART_THRESHOLD must be HH:MM (got %q)", s.DaypartThreshold)
	}
	s.threshold = th
	if s.DefaultSlotMinutes <= 0 {
		return s, fmt.Errorf("DEFAULT_SLOT_MINUTES must be positive")
	}
	if s.LookaheadDays <= 0 {
		return s, fmt.Errorf("LOOKAHEAD_DAYS must be positive")
	}
	return s, nil
}
