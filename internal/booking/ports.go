package booking

import (
	"context"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

// Reader serves bookings the live engine no longer holds, e.g. earlier days.
type Reader interface {
	GetBooking(ctx context.Context, id string) (canteen.Booking, error)
	ListByStudent(ctx context.Context, studentID string) ([]canteen.Booking, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env canteen.Envelope) error
}

type StatusCache interface {
	PutStatus(ctx context.Context, v View) error
}

// Idempotency maps a client supplied key to the booking it created. Keys
// are scoped to the student that sent them.
type Idempotency interface {
	Lookup(ctx context.Context, studentID, key string) (bookingID string, ok bool, err error)
	Remember(ctx context.Context, studentID, key, bookingID string) error
}

// Notifier is told after any change to a slot's live queue.
type Notifier interface {
	SlotChanged(slotID string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte, canteen.Envelope) error { return nil }

type nopCache struct{}

func (nopCache) PutStatus(context.Context, View) error { return nil }

type nopIdempotency struct{}

func (nopIdempotency) Lookup(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (nopIdempotency) Remember(context.Context, string, string, string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) SlotChanged(string) {}
