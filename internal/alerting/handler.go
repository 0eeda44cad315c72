package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	kafkax "github.com/ariefcatur/canteen-queue/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper claims event ids so a redelivered event is evaluated once.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// EventHandler re-evaluates a slot whenever its queue changes.
type EventHandler struct {
	Policy *Policy
	Dedup  Deduper
	Log    *zap.Logger
}

var bookingEvents = map[string]bool{
	canteen.EventBookingCreated:   true,
	canteen.EventBookingModified:  true,
	canteen.EventBookingCancelled: true,
	canteen.EventTokenCalled:      true,
	canteen.EventTokenServed:      true,
}

// HandleBookingEvent is installed as the consumer handler. Returning an
// error leaves the offset uncommitted.
func (h *EventHandler) HandleBookingEvent(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.EventType(m); t != "" && !bookingEvents[t] {
		return nil
	}

	var env canteen.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// a message that never decodes would block the partition forever
		h.Log.Error("dropping undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !bookingEvents[env.EventType] {
		return nil
	}
	p, err := kafkax.UnwrapPayload[canteen.BookingEventPayload](env.Payload)
	if err != nil {
		h.Log.Error("dropping event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if h.Dedup != nil && env.EventID != "" {
		seen, err := h.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if seen {
			return nil
		}
	}

	slotIDs := []string{p.SlotID}
	if p.FromSlotID != "" && p.FromSlotID != p.SlotID {
		slotIDs = append(slotIDs, p.FromSlotID)
	}
	for _, id := range slotIDs {
		if _, err := h.Policy.Evaluate(ctx, id); err != nil {
			if errors.Is(err, canteen.ErrNotFound) {
				h.Log.Warn("event for unknown slot", zap.String("slot_id", id), zap.String("event_id", env.EventID))
				continue
			}
			h.release(ctx, env.EventID)
			return err
		}
	}
	return nil
}

func (h *EventHandler) release(ctx context.Context, eventID string) {
	if h.Dedup == nil || eventID == "" {
		return
	}
	if err := h.Dedup.Forget(ctx, eventID); err != nil {
		h.Log.Warn("dedup release failed", zap.String("event_id", eventID), zap.Error(err))
	}
}
