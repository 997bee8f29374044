package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotsync/libs/config"
	"github.com/md-rashed-zaman/slotsync/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

func main() {
	config.LoadDotEnv()

	var (
		brokers  = flag.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "comma separated kafka brokers")
		kind     = flag.String("type", "booked", "booked or cancelled")
		studio   = flag.String("studio-id", config.String("STUDIO_ID", ""), "studio (business) id")
		apptID   = flag.String("appointment-id", "", "appointment id (random when empty)")
		patient  = flag.String("patient-id", "patient-sim", "patient id")
		start    = flag.String("start", "", "RFC3339 start time (next full hour when empty)")
		duration = flag.Int("duration", 45, "duration in minutes")
	)
	flag.Parse()

	if strings.TrimSpace(*studio) == "" {
		fatal("STUDIO_ID is required")
	}

	var topic string
	switch *kind {
	case "booked":
		topic = "booking.appointment.booked.v1"
	case "cancelled":
		topic = "booking.appointment.cancelled.v1"
	default:
		fatal("type must be booked or cancelled")
	}

	startAt := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fatal("invalid start: " + err.Error())
		}
		startAt = t
	}
	if *apptID == "" {
		*apptID = uuid.NewString()
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": *apptID,
		"business_id":    *studio,
		"patient_id":     *patient,
		"start_time":     startAt.Format(time.RFC3339),
		"end_time":       startAt.Add(time.Duration(*duration) * time.Minute).Format(time.RFC3339),
		"status":         *kind,
	})
	if err != nil {
		fatal(err.Error())
	}

	list := kafkax.SplitBrokers(*brokers)
	if len(list) == 0 {
		fatal("KAFKA_BROKERS is required")
	}
	writer := kafkax.NewWriter(list)
	defer writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta := kafkax.EventMeta{EventID: uuid.NewString(), EventType: topic}
	err = writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(*apptID),
		Value:   payload,
		Headers: meta.Headers(),
	})
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("published %s event_id=%s appointment_id=%s\n", topic, meta.EventID, *apptID)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
