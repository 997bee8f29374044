package model

import (
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/calendar"
)

// Slot is a fixed-duration bookable interval [Start, End) of a studio.
// (StudioID, Start) is unique.
type Slot struct {
	ID        string
	StudioID  string
	Start     time.Time
	End       time.Time
	Booked    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentBooked, AppointmentConfirmed, AppointmentCancelled, AppointmentCompleted:
		return true
	}
	return false
}

type Appointment struct {
	ID              string
	StudioID        string
	PatientID       string
	Start           time.Time
	DurationMinutes int
	Status          AppointmentStatus
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.Start, End: a.End()}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Overlaps reports whether the half-open intervals share any instant:
// [a, b) and [c, d) overlap iff a < d && c < b. Touching ends do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

type Service struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

// ExternalRef identifies a studio inside the authoritative booking platform.
type ExternalRef struct {
	PracticeID string
	ArchiveID  string
}

func (r ExternalRef) Configured() bool {
	return r.PracticeID != "" && r.ArchiveID != ""
}

// Studio is the tenant whose calendar is generated. Hours are parsed once when
// the studio is loaded; HasHours is false when nothing was ever configured.
type Studio struct {
	ID          string
	Name        string
	Timezone    string
	Location    *time.Location
	Hours       calendar.WeeklyHours
	HasHours    bool
	Services    []Service
	SlotMinutes int
	External    ExternalRef
}

// SlotDuration is the studio's own slot length, or fallback when unset.
func (s Studio) SlotDuration(fallback time.Duration) time.Duration {
	if s.SlotMinutes > 0 {
		return time.Duration(s.SlotMinutes) * time.Minute
	}
	return fallback
}

func (s Studio) Loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
