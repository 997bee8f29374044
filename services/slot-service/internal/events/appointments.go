// Package events applies appointment lifecycle events from the booking flow.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotsync/services/slot-service/internal/occupancy"
	"github.com/segmentio/kafka-go"
)

const (
	TopicAppointmentBooked    = "booking.appointment.booked.v1"
	TopicAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// AppointmentPayload is the JSON body of both appointment topics. Producers
// name the studio either studio_id or business_id.
type AppointmentPayload struct {
	AppointmentID   string `json:"appointment_id"`
	StudioID        string `json:"studio_id,omitempty"`
	BusinessID      string `json:"business_id,omitempty"`
	PatientID       string `json:"patient_id,omitempty"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Status          string `json:"status,omitempty"`
}

var errInvalidPayload = errors.New("invalid appointment payload")

// Decode maps a message to the appointment state it announces.
func Decode(topic string, value []byte) (model.Appointment, error) {
	var p AppointmentPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return model.Appointment{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	studioID := p.StudioID
	if studioID == "" {
		studioID = p.BusinessID
	}
	if p.AppointmentID == "" || studioID == "" || p.StartTime == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment_id, studio and start_time are required", errInvalidPayload)
	}
	start, err := time.Parse(time.RFC3339, p.StartTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("%w: start_time: %v", errInvalidPayload, err)
	}

	minutes := p.DurationMinutes
	if minutes <= 0 && p.EndTime != "" {
		end, err := time.Parse(time.RFC3339, p.EndTime)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("%w: end_time: %v", errInvalidPayload, err)
		}
		minutes = int(end.Sub(start).Round(time.Minute) / time.Minute)
	}
	if minutes <= 0 {
		return model.Appointment{}, fmt.Errorf("%w: appointment has no positive duration", errInvalidPayload)
	}

	status := model.AppointmentStatus(strings.ToLower(strings.TrimSpace(p.Status)))
	switch {
	case topic == TopicAppointmentCancelled:
		status = model.AppointmentCancelled
	case status == "":
		status = model.AppointmentBooked
	case !status.Valid():
		return model.Appointment{}, fmt.Errorf("%w: unknown status %q", errInvalidPayload, p.Status)
	}

	return model.Appointment{
		ID:              p.AppointmentID,
		StudioID:        studioID,
		PatientID:       p.PatientID,
		Start:           start,
		DurationMinutes: minutes,
		Status:          status,
	}, nil
}

type AppointmentStore interface {
	Upsert(ctx context.Context, a model.Appointment) error
}

type Marker interface {
	Mark(ctx context.Context, studioID string, intervals []model.Interval) (occupancy.Result, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context, studioID string)
}

type AppointmentHandler struct {
	store  AppointmentStore
	marker Marker
	cache  Invalidator
	logger *slog.Logger
}

func NewAppointmentHandler(store AppointmentStore, marker Marker, cache Invalidator, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{store: store, marker: marker, cache: cache, logger: logger}
}

// Handle persists the appointment. A live appointment marks its slots right
// away; a cancellation only records the status and leaves slot release to the
// next sync pass.
func (h *AppointmentHandler) Handle(ctx context.Context, msg kafka.Message) error {
	appt, err := Decode(msg.Topic, msg.Value)
	if err != nil {
		h.logger.Error("appointment event dropped", "topic", msg.Topic, "err", err)
		return nil
	}
	if err := h.store.Upsert(ctx, appt); err != nil {
		return err
	}
	if appt.Status == model.AppointmentCancelled {
		h.logger.Info("appointment cancelled", "appointment_id", appt.ID, "studio_id", appt.StudioID)
		return nil
	}
	if _, err := h.marker.Mark(ctx, appt.StudioID, []model.Interval{appt.Interval()}); err != nil {
		return err
	}
	h.cache.Invalidate(ctx, appt.StudioID)
	return nil
}
