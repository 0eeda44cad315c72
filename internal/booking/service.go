package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	kafkax "github.com/ariefcatur/canteen-queue/internal/kafka"
	"github.com/ariefcatur/canteen-queue/internal/menu"
	"github.com/ariefcatur/canteen-queue/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// View is a booking as clients see it. Total and wait are derived on read.
type View struct {
	canteen.Booking
	TotalCents           int  `json:"total_cents"`
	EstimatedWaitMinutes int  `json:"estimated_wait_minutes"`
	Idempotent           bool `json:"idempotent,omitempty"`
}

type Actor struct {
	ID   string
	Role canteen.Role
}

type CreateInput struct {
	StudentID      string
	SlotID         string
	Items          []canteen.ItemQty
	IdempotencyKey string
	TraceID        string
}

// ModifyInput changes items, slot or both. Nil Items keeps the current ones;
// an empty SlotID keeps the current slot.
type ModifyInput struct {
	Items   []canteen.ItemQty
	SlotID  string
	TraceID string
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }
func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }
func WithIdempotency(i Idempotency) Option { return func(s *Service) { s.idem = i } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notify = n } }
func WithProducerName(name string) Option { return func(s *Service) { s.producer = name } }

type Service struct {
	engine   *queue.Engine
	catalog  *menu.Catalog
	reader   Reader
	pub      Publisher
	cache    StatusCache
	idem     Idempotency
	notify   Notifier
	producer string
	log      *zap.Logger

	// refresh serialises status cache writes per slot so an older snapshot
	// never lands after a newer one.
	refreshMu sync.Mutex
	refresh   map[string]*sync.Mutex
}

func NewService(engine *queue.Engine, catalog *menu.Catalog, reader Reader, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		catalog:  catalog,
		reader:   reader,
		pub:      nopPublisher{},
		cache:    nopCache{},
		idem:     nopIdempotency{},
		notify:   nopNotifier{},
		producer: "canteen-api",
		log:      log,
		refresh:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in CreateInput) (View, error) {
	if in.StudentID == "" || in.SlotID == "" {
		return View{}, fmt.Errorf("%w: student_id and slot_id are required", canteen.ErrValidation)
	}
	if in.IdempotencyKey != "" {
		if id, ok, err := s.idem.Lookup(ctx, in.StudentID, in.IdempotencyKey); err != nil {
			s.log.Warn("idempotency lookup failed", zap.String("key", in.IdempotencyKey), zap.Error(err))
		} else if ok {
			v, err := s.get(ctx, id)
			switch {
			case err != nil:
				s.log.Warn("idempotent booking vanished", zap.String("booking_id", id), zap.Error(err))
			case v.StudentID != in.StudentID:
				s.log.Warn("idempotency key points at another student's booking",
					zap.String("booking_id", id), zap.String("student_id", in.StudentID))
			default:
				v.Idempotent = true
				return v, nil
			}
		}
	}

	if err := s.catalog.Validate(in.SlotID, in.Items); err != nil {
		return View{}, err
	}

	b, err := s.engine.Enqueue(ctx, in.SlotID, canteen.Booking{
		ID:        uuid.NewString(),
		StudentID: in.StudentID,
		Items:     in.Items,
	}, s.duplicateGuard(in.StudentID, ""))
	if err != nil {
		return View{}, fmt.Errorf("enqueue: %w", err)
	}

	s.log.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("slot_id", b.SlotID),
		zap.String("student_id", b.StudentID),
		zap.String("token", b.TokenNumber),
	)

	if in.IdempotencyKey != "" {
		if err := s.idem.Remember(ctx, in.StudentID, in.IdempotencyKey, b.ID); err != nil {
			s.log.Warn("idempotency remember failed", zap.String("key", in.IdempotencyKey), zap.Error(err))
		}
	}
	s.afterChange(ctx, canteen.EventBookingCreated, b, "", in.TraceID)
	return s.view(b), nil
}

func (s *Service) Modify(ctx context.Context, actor Actor, id string, in ModifyInput) (View, error) {
	cur, err := s.owned(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	if cur.Status != canteen.StatusPending {
		return View{}, fmt.Errorf("booking %s is %s: %w", id, cur.Status, canteen.ErrInvalidTransition)
	}

	items := in.Items
	if items == nil {
		items = cur.Items
	}
	target := in.SlotID
	if target == "" {
		target = cur.SlotID
	}
	if err := s.catalog.Validate(target, items); err != nil {
		return View{}, err
	}

	b, err := s.engine.Modify(ctx, id, items, target, s.duplicateGuard(cur.StudentID, id))
	if err != nil {
		return View{}, fmt.Errorf("modify: %w", err)
	}

	from := ""
	if b.SlotID != cur.SlotID {
		from = cur.SlotID
	}
	s.log.Info("booking modified",
		zap.String("booking_id", b.ID),
		zap.String("slot_id", b.SlotID),
		zap.String("from_slot_id", from),
	)
	s.afterChange(ctx, canteen.EventBookingModified, b, from, in.TraceID)
	return s.view(b), nil
}

// Cancel withdraws a pending booking. Students may only cancel their own.
func (s *Service) Cancel(ctx context.Context, actor Actor, id, traceID string) (View, error) {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return View{}, err
	}
	b, err := s.engine.Cancel(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("cancel: %w", err)
	}
	s.log.Info("booking cancelled", zap.String("booking_id", b.ID), zap.String("slot_id", b.SlotID))
	s.afterChange(ctx, canteen.EventBookingCancelled, b, "", traceID)
	return s.view(b), nil
}

func (s *Service) CallNext(ctx context.Context, slotID, traceID string) (View, error) {
	b, err := s.engine.CallNext(ctx, slotID)
	if err != nil {
		return View{}, fmt.Errorf("call next: %w", err)
	}
	s.log.Info("token called", zap.String("booking_id", b.ID), zap.String("slot_id", slotID), zap.String("token", b.TokenNumber))
	s.afterChange(ctx, canteen.EventTokenCalled, b, "", traceID)
	return s.view(b), nil
}

func (s *Service) MarkServed(ctx context.Context, id, traceID string) (View, error) {
	b, err := s.engine.MarkServed(ctx, id)
	if err != nil {
		return View{}, fmt.Errorf("mark served: %w", err)
	}
	s.log.Info("token served", zap.String("booking_id", b.ID), zap.String("slot_id", b.SlotID))
	s.afterChange(ctx, canteen.EventTokenServed, b, "", traceID)
	return s.view(b), nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (View, error) {
	b, err := s.owned(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	return s.view(b), nil
}

func (s *Service) ListByStudent(ctx context.Context, actor Actor, studentID string) ([]View, error) {
	if actor.Role == canteen.RoleStudent && actor.ID != studentID {
		return nil, fmt.Errorf("bookings of %s: %w", studentID, canteen.ErrForbidden)
	}
	stored, err := s.reader.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	out := make([]View, 0, len(stored))
	for _, b := range stored {
		// the engine holds the freshest positions for live bookings
		if live, err := s.engine.Get(b.ID); err == nil {
			b = live
		}
		out = append(out, s.view(b))
	}
	return out, nil
}

// SlotQueue is the live queue of a slot in serving order.
func (s *Service) SlotQueue(_ context.Context, slotID string) ([]View, error) {
	snap, err := s.engine.Snapshot(slotID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(snap))
	for _, b := range snap {
		out = append(out, s.view(b))
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, id string) (View, error) {
	b, err := s.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(b), nil
}

func (s *Service) lookup(ctx context.Context, id string) (canteen.Booking, error) {
	b, err := s.engine.Get(id)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, canteen.ErrNotFound) {
		return canteen.Booking{}, err
	}
	return s.reader.GetBooking(ctx, id)
}

func (s *Service) owned(ctx context.Context, actor Actor, id string) (canteen.Booking, error) {
	b, err := s.lookup(ctx, id)
	if err != nil {
		return canteen.Booking{}, err
	}
	if actor.Role == canteen.RoleStudent && b.StudentID != actor.ID {
		return canteen.Booking{}, fmt.Errorf("booking %s: %w", id, canteen.ErrForbidden)
	}
	return b, nil
}

// duplicateGuard rejects a second live booking of the same student in the
// same slot-day. exceptID skips the booking being modified.
func (s *Service) duplicateGuard(studentID, exceptID string) queue.Guard {
	return func(day string, active []canteen.Booking) error {
		for _, b := range active {
			if b.StudentID == studentID && b.ID != exceptID && s.engine.DayKey(b.CreatedAt) == day {
				return fmt.Errorf("student %s: %w", studentID, canteen.ErrDuplicateBooking)
			}
		}
		return nil
	}
}

func (s *Service) view(b canteen.Booking) View {
	return View{
		Booking:              b,
		TotalCents:           s.catalog.Total(b.Items),
		EstimatedWaitMinutes: s.engine.WaitMinutes(b),
	}
}

// afterChange fans a successful mutation out to events, cache and board.
// Failures here are logged and never undo the mutation.
func (s *Service) afterChange(ctx context.Context, eventType string, b canteen.Booking, fromSlotID, traceID string) {
	ev := canteen.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.producer,
		TraceID:       traceID,
		CorrelationID: b.ID,
		Payload: kafkax.MustMarshal(canteen.BookingEventPayload{
			BookingID:     b.ID,
			StudentID:     b.StudentID,
			SlotID:        b.SlotID,
			FromSlotID:    fromSlotID,
			TokenNumber:   b.TokenNumber,
			Status:        b.Status,
			QueuePosition: b.QueuePosition,
			Items:         b.Items,
		}),
	}
	if err := s.pub.Publish(ctx, canteen.TopicBookingEvents, canteen.PartitionKey(b.SlotID), ev); err != nil {
		s.log.Error("publish booking event failed", zap.String("event_type", eventType), zap.String("booking_id", b.ID), zap.Error(err))
	}

	// the slot a booking left is refreshed first; a snapshot of it taken
	// after this point no longer contains b
	if fromSlotID != "" {
		s.refreshSlot(ctx, fromSlotID, nil)
		s.notify.SlotChanged(fromSlotID)
	}
	var settled *canteen.Booking
	if !b.Status.Active() {
		settled = &b
	}
	s.refreshSlot(ctx, b.SlotID, settled)
	s.notify.SlotChanged(b.SlotID)
}

func (s *Service) slotRefreshLock(slotID string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	mu, ok := s.refresh[slotID]
	if !ok {
		mu = &sync.Mutex{}
		s.refresh[slotID] = mu
	}
	return mu
}

// refreshSlot rewrites the cached status of every live booking in the slot,
// plus settled, a booking that just left the live queue.
func (s *Service) refreshSlot(ctx context.Context, slotID string, settled *canteen.Booking) {
	mu := s.slotRefreshLock(slotID)
	mu.Lock()
	defer mu.Unlock()

	if settled != nil {
		if err := s.cache.PutStatus(ctx, s.view(*settled)); err != nil {
			s.log.Warn("status cache update failed", zap.String("booking_id", settled.ID), zap.Error(err))
			return
		}
	}
	snap, err := s.engine.Snapshot(slotID)
	if err != nil {
		return
	}
	for _, b := range snap {
		if err := s.cache.PutStatus(ctx, s.view(b)); err != nil {
			s.log.Warn("status cache update failed", zap.String("booking_id", b.ID), zap.Error(err))
			return
		}
	}
}
