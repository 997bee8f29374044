package outbox

import (
	"encoding/json"
	"time"
)

// Event is the envelope written to outbox_events. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateStudio = "studio"

	TypeSyncCompleted = "slots.sync.completed.v1"
	TypeSyncFailed    = "slots.sync.failed.v1"
)

// SyncPayload reports the outcome of one sync pass for a studio.
type SyncPayload struct {
	StudioID        string    `json:"studio_id"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	SlotsInserted   int       `json:"slots_inserted"`
	SlotsUpdated    int       `json:"slots_updated"`
	SlotsMarked     int64     `json:"slots_marked"`
	SlotsReleased   int64     `json:"slots_released"`
	ExternalSkipped bool      `json:"external_skipped"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewSyncEvent(eventType string, p SyncPayload) (Event, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateStudio,
		AggregateID:   p.StudioID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
