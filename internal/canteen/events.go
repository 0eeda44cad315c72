package canteen

import (
	"encoding/json"
	"time"
)

const (
	EventBookingCreated   = "BookingCreated"
	EventBookingModified  = "BookingModified"
	EventBookingCancelled = "BookingCancelled"
	EventTokenCalled      = "TokenCalled"
	EventTokenServed      = "TokenServed"
	EventAlertRaised      = "AlertRaised"
	EventAlertResolved    = "AlertResolved"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // booking or alert id
	Payload       json.RawMessage `json:"payload"`
}

// BookingEventPayload is shared by every booking event type. FromSlotID is
// only set when a modification moved the booking to another slot.
type BookingEventPayload struct {
	BookingID     string    `json:"booking_id"`
	StudentID     string    `json:"student_id"`
	SlotID        string    `json:"slot_id"`
	FromSlotID    string    `json:"from_slot_id,omitempty"`
	TokenNumber   string    `json:"token_number"`
	Status        Status    `json:"status"`
	QueuePosition int       `json:"queue_position"`
	Items         []ItemQty `json:"items,omitempty"`
}

type AlertEventPayload struct {
	AlertID    string   `json:"alert_id"`
	SlotID     string   `json:"slot_id"`
	Severity   Severity `json:"severity"`
	Occupancy  float64  `json:"occupancy"`
	ResolvedBy string   `json:"resolved_by,omitempty"`
}
