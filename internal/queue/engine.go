package queue

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/google/uuid"
)

// Store persists bookings whose stored fields changed. The engine calls it
// while holding the slot lock and only commits in memory when it succeeds.
type Store interface {
	SaveBookings(ctx context.Context, bookings ...canteen.Booking) error
}

type SlotSource interface {
	Get(id string) (canteen.Slot, error)
}

// Guard runs under the slot lock before a booking enters the slot. day is
// the engine's slot-day key for "now".
type Guard func(day string, active []canteen.Booking) error

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone that decides where a slot-day starts.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithDefaultServiceTime(d time.Duration) Option {
	return func(e *Engine) { e.defaultService = d }
}

// WithSampleSize bounds the rolling window of service durations per slot.
func WithSampleSize(n int) Option {
	return func(e *Engine) { e.sampleSize = n }
}

// Engine owns the live queue of every slot. Each slot has its own lock;
// operations on different slots never contend.
type Engine struct {
	slots          SlotSource
	store          Store
	now            func() time.Time
	loc            *time.Location
	defaultService time.Duration
	sampleSize     int

	mu     sync.RWMutex
	queues map[string]*slotQueue
	index  map[string]string // booking id -> slot id
}

func NewEngine(slots SlotSource, store Store, opts ...Option) *Engine {
	e := &Engine{
		slots:          slots,
		store:          store,
		now:            time.Now,
		loc:            time.Local,
		defaultService: 3 * time.Minute,
		sampleSize:     20,
		queues:         make(map[string]*slotQueue),
		index:          make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Now() time.Time { return e.now() }

// DayKey is the slot-day a timestamp belongs to.
func (e *Engine) DayKey(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02")
}

func (e *Engine) queue(slotID string) *slotQueue {
	e.mu.RLock()
	q, ok := e.queues[slotID]
	e.mu.RUnlock()
	if ok {
		return q
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok = e.queues[slotID]; !ok {
		q = newSlotQueue()
		e.queues[slotID] = q
	}
	return q
}

func (e *Engine) slotOf(bookingID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.index[bookingID]
	return id, ok
}

func (e *Engine) setIndex(bookingID, slotID string) {
	e.mu.Lock()
	e.index[bookingID] = slotID
	e.mu.Unlock()
}

// rollover prunes q once per slot-day. Caller holds q.mu.
func (e *Engine) rollover(q *slotQueue, day string) {
	if q.day == day {
		return
	}
	e.dropIndex(q.prune(day, e.DayKey))
}

func (e *Engine) dropIndex(ids []string) {
	if len(ids) == 0 {
		return
	}
	e.mu.Lock()
	for _, id := range ids {
		delete(e.index, id)
	}
	e.mu.Unlock()
}

// lockBooking locks the queue that currently holds the booking. A concurrent
// slot move can relocate it between lookup and lock, so the lookup retries.
func (e *Engine) lockBooking(bookingID string) (*slotQueue, error) {
	for i := 0; i < 3; i++ {
		slotID, ok := e.slotOf(bookingID)
		if !ok {
			return nil, fmt.Errorf("booking %s: %w", bookingID, canteen.ErrNotFound)
		}
		q := e.queue(slotID)
		q.mu.Lock()
		if q.has(bookingID) {
			return q, nil
		}
		q.mu.Unlock()
	}
	return nil, fmt.Errorf("booking %s: %w", bookingID, canteen.ErrNotFound)
}

func (e *Engine) save(ctx context.Context, changed []canteen.Booking) error {
	if e.store == nil || len(changed) == 0 {
		return nil
	}
	if err := e.store.SaveBookings(ctx, changed...); err != nil {
		return fmt.Errorf("persist bookings: %w", err)
	}
	return nil
}

// Enqueue admits a booking into the slot as pending and assigns its token
// number and queue position.
func (e *Engine) Enqueue(ctx context.Context, slotID string, b canteen.Booking, guard Guard) (canteen.Booking, error) {
	slot, err := e.slots.Get(slotID)
	if err != nil {
		return canteen.Booking{}, err
	}
	if !slot.Active {
		return canteen.Booking{}, fmt.Errorf("slot %s: %w", slotID, canteen.ErrSlotClosed)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	} else if _, dup := e.slotOf(b.ID); dup {
		return canteen.Booking{}, fmt.Errorf("%w: booking %s already exists", canteen.ErrValidation, b.ID)
	}

	q := e.queue(slotID)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := e.now()
	day := e.DayKey(now)
	e.rollover(q, day)
	if guard != nil {
		if err := guard(day, q.activeCopy()); err != nil {
			return canteen.Booking{}, err
		}
	}
	if len(q.active) >= slot.Capacity {
		return canteen.Booking{}, fmt.Errorf("slot %s (%d/%d): %w", slotID, len(q.active), slot.Capacity, canteen.ErrCapacityExceeded)
	}

	n := q.counters[day] + 1
	b.SlotID = slotID
	b.Status = canteen.StatusPending
	b.TokenNumber = tokenNumber(slot.TokenPrefix, n)
	b.CreatedAt = now
	b.UpdatedAt = now
	b.CalledAt, b.ServedAt, b.CancelledAt = nil, nil, nil
	b.Items = append([]canteen.ItemQty(nil), b.Items...)
	seq := q.seq + 1

	next, changed := q.plan(func(active []canteen.Booking, seqs map[string]uint64) []canteen.Booking {
		seqs[b.ID] = seq
		return append(active, b)
	})
	if err := e.save(ctx, changed); err != nil {
		return canteen.Booking{}, err
	}

	q.commit(next)
	q.seq = seq
	q.counters[day] = n
	e.setIndex(b.ID, slotID)
	return q.find(b.ID).Clone(), nil
}

// CallNext moves the oldest pending booking to serving. It never waits for
// a booking to arrive.
func (e *Engine) CallNext(ctx context.Context, slotID string) (canteen.Booking, error) {
	if _, err := e.slots.Get(slotID); err != nil {
		return canteen.Booking{}, err
	}
	q := e.queue(slotID)
	q.mu.Lock()
	defer q.mu.Unlock()

	var called *canteen.Booking
	for i := range q.active {
		if q.active[i].Status == canteen.StatusPending {
			called = &q.active[i]
			break
		}
	}
	if called == nil {
		return canteen.Booking{}, fmt.Errorf("slot %s: %w", slotID, canteen.ErrEmptyQueue)
	}

	now := e.now()
	id := called.ID
	next, changed := q.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking {
		for i := range active {
			if active[i].ID == id {
				active[i].Status = canteen.StatusServing
				active[i].CalledAt = &now
				active[i].UpdatedAt = now
			}
		}
		return active
	})
	if err := e.save(ctx, changed); err != nil {
		return canteen.Booking{}, err
	}
	q.commit(next)
	return q.find(id).Clone(), nil
}

// MarkServed completes a serving booking.
func (e *Engine) MarkServed(ctx context.Context, bookingID string) (canteen.Booking, error) {
	q, err := e.lockBooking(bookingID)
	if err != nil {
		return canteen.Booking{}, err
	}
	defer q.mu.Unlock()

	cur := q.find(bookingID)
	if !canteen.CanTransition(cur.Status, canteen.StatusServed) {
		return canteen.Booking{}, fmt.Errorf("booking %s is %s: %w", bookingID, cur.Status, canteen.ErrInvalidTransition)
	}

	now := e.now()
	done := cur.Clone()
	done.Status = canteen.StatusServed
	done.ServedAt = &now
	done.UpdatedAt = now
	done.QueuePosition = 0

	next, changed := q.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking {
		return without(active, bookingID)
	})
	if err := e.save(ctx, append(changed, done)); err != nil {
		return canteen.Booking{}, err
	}
	q.commit(next)
	q.done[bookingID] = done
	delete(q.seqs, bookingID)
	if done.CalledAt != nil {
		q.addSample(now.Sub(*done.CalledAt), e.sampleSize)
	}
	return done.Clone(), nil
}

// Cancel withdraws a pending booking; the bookings behind it move up.
func (e *Engine) Cancel(ctx context.Context, bookingID string) (canteen.Booking, error) {
	q, err := e.lockBooking(bookingID)
	if err != nil {
		return canteen.Booking{}, err
	}
	defer q.mu.Unlock()

	cur := q.find(bookingID)
	if !canteen.CanTransition(cur.Status, canteen.StatusCancelled) {
		return canteen.Booking{}, fmt.Errorf("booking %s is %s: %w", bookingID, cur.Status, canteen.ErrInvalidTransition)
	}

	now := e.now()
	done := cur.Clone()
	done.Status = canteen.StatusCancelled
	done.CancelledAt = &now
	done.UpdatedAt = now
	done.QueuePosition = 0

	next, changed := q.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking {
		return without(active, bookingID)
	})
	if err := e.save(ctx, append(changed, done)); err != nil {
		return canteen.Booking{}, err
	}
	q.commit(next)
	q.done[bookingID] = done
	delete(q.seqs, bookingID)
	return done.Clone(), nil
}

// Modify replaces the items of a pending booking. With a different
// newSlotID the booking is withdrawn from its slot and enqueued at the back
// of the new one under a fresh token; either both happen or neither.
func (e *Engine) Modify(ctx context.Context, bookingID string, items []canteen.ItemQty, newSlotID string, guard Guard) (canteen.Booking, error) {
	for i := 0; i < 3; i++ {
		oldSlotID, ok := e.slotOf(bookingID)
		if !ok {
			return canteen.Booking{}, fmt.Errorf("booking %s: %w", bookingID, canteen.ErrNotFound)
		}
		if newSlotID == "" || newSlotID == oldSlotID {
			return e.modifyInPlace(ctx, bookingID, items)
		}
		b, moved, err := e.move(ctx, bookingID, oldSlotID, newSlotID, items, guard)
		if moved || err != nil {
			return b, err
		}
	}
	return canteen.Booking{}, fmt.Errorf("booking %s: %w", bookingID, canteen.ErrNotFound)
}

func (e *Engine) modifyInPlace(ctx context.Context, bookingID string, items []canteen.ItemQty) (canteen.Booking, error) {
	q, err := e.lockBooking(bookingID)
	if err != nil {
		return canteen.Booking{}, err
	}
	defer q.mu.Unlock()

	cur := q.find(bookingID)
	if cur.Status != canteen.StatusPending {
		return canteen.Booking{}, fmt.Errorf("booking %s is %s: %w", bookingID, cur.Status, canteen.ErrInvalidTransition)
	}

	now := e.now()
	next, changed := q.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking {
		for i := range active {
			if active[i].ID == bookingID {
				active[i].Items = append([]canteen.ItemQty(nil), items...)
				active[i].UpdatedAt = now
			}
		}
		return active
	})
	updated := findIn(next, bookingID)
	if err := e.save(ctx, appendUnique(changed, updated)); err != nil {
		return canteen.Booking{}, err
	}
	q.commit(next)
	return updated.Clone(), nil
}

// move reports moved=false when the booking left oldSlotID before the locks
// were taken, so the caller can retry with a fresh lookup.
func (e *Engine) move(ctx context.Context, bookingID, oldSlotID, newSlotID string, items []canteen.ItemQty, guard Guard) (canteen.Booking, bool, error) {
	slot, err := e.slots.Get(newSlotID)
	if err != nil {
		return canteen.Booking{}, true, err
	}
	if !slot.Active {
		return canteen.Booking{}, true, fmt.Errorf("slot %s: %w", newSlotID, canteen.ErrSlotClosed)
	}

	from, to := e.queue(oldSlotID), e.queue(newSlotID)
	first, second := from, to
	if newSlotID < oldSlotID {
		first, second = to, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if !from.has(bookingID) {
		return canteen.Booking{}, false, nil
	}
	cur := from.find(bookingID)
	if cur.Status != canteen.StatusPending {
		return canteen.Booking{}, true, fmt.Errorf("booking %s is %s: %w", bookingID, cur.Status, canteen.ErrInvalidTransition)
	}

	now := e.now()
	day := e.DayKey(now)
	e.rollover(to, day)
	if guard != nil {
		if err := guard(day, to.activeCopy()); err != nil {
			return canteen.Booking{}, true, err
		}
	}
	if len(to.active) >= slot.Capacity {
		return canteen.Booking{}, true, fmt.Errorf("slot %s (%d/%d): %w", newSlotID, len(to.active), slot.Capacity, canteen.ErrCapacityExceeded)
	}

	n := to.counters[day] + 1
	b := cur.Clone()
	b.SlotID = newSlotID
	b.Items = append([]canteen.ItemQty(nil), items...)
	b.TokenNumber = tokenNumber(slot.TokenPrefix, n)
	b.CreatedAt = now
	b.UpdatedAt = now
	seq := to.seq + 1

	fromNext, fromChanged := from.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking {
		return without(active, bookingID)
	})
	toNext, toChanged := to.plan(func(active []canteen.Booking, seqs map[string]uint64) []canteen.Booking {
		seqs[bookingID] = seq
		return append(active, b)
	})
	if err := e.save(ctx, append(fromChanged, toChanged...)); err != nil {
		return canteen.Booking{}, true, err
	}

	from.commit(fromNext)
	delete(from.seqs, bookingID)
	to.commit(toNext)
	to.seq = seq
	to.counters[day] = n
	e.setIndex(bookingID, newSlotID)
	return to.find(bookingID).Clone(), true, nil
}

// Prune forgets served and cancelled bookings settled before today, along
// with token counters of earlier slot-days, and returns how many bookings
// were dropped. Those bookings remain readable through the store.
func (e *Engine) Prune() int {
	today := e.DayKey(e.now())
	e.mu.RLock()
	qs := make([]*slotQueue, 0, len(e.queues))
	for _, q := range e.queues {
		qs = append(qs, q)
	}
	e.mu.RUnlock()

	n := 0
	for _, q := range qs {
		q.mu.Lock()
		ids := q.prune(today, e.DayKey)
		e.dropIndex(ids)
		q.mu.Unlock()
		n += len(ids)
	}
	return n
}

// Get returns the current state of any booking the engine knows.
func (e *Engine) Get(bookingID string) (canteen.Booking, error) {
	q, err := e.lockBooking(bookingID)
	if err != nil {
		return canteen.Booking{}, err
	}
	defer q.mu.Unlock()
	return q.find(bookingID).Clone(), nil
}

// Snapshot is a consistent copy of the slot's pending and serving bookings
// in queue order.
func (e *Engine) Snapshot(slotID string) ([]canteen.Booking, error) {
	if _, err := e.slots.Get(slotID); err != nil {
		return nil, err
	}
	q := e.queue(slotID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeCopy(), nil
}

func (e *Engine) ActiveCount(_ context.Context, slotID string) (int, error) {
	if _, err := e.slots.Get(slotID); err != nil {
		return 0, err
	}
	q := e.queue(slotID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active), nil
}

// EstimatedWait is (position-1) × the slot's average service time. Serving
// bookings and the head of the queue wait zero.
func (e *Engine) EstimatedWait(b canteen.Booking) time.Duration {
	if b.Status != canteen.StatusPending || b.QueuePosition <= 1 {
		return 0
	}
	avg := e.defaultService
	if slot, err := e.slots.Get(b.SlotID); err == nil && slot.AvgServiceMinutes > 0 {
		avg = time.Duration(slot.AvgServiceMinutes) * time.Minute
	}
	q := e.queue(b.SlotID)
	q.mu.Lock()
	if rolling, ok := q.averageSample(); ok {
		avg = rolling
	}
	q.mu.Unlock()
	return time.Duration(b.QueuePosition-1) * avg
}

// WaitMinutes rounds EstimatedWait up to whole minutes.
func (e *Engine) WaitMinutes(b canteen.Booking) int {
	return int(math.Ceil(e.EstimatedWait(b).Minutes()))
}

// Restore rebuilds engine state from persisted bookings, typically every
// booking of the current day plus any still active from earlier days.
func (e *Engine) Restore(bookings []canteen.Booking) {
	sorted := make([]canteen.Booking, len(bookings))
	copy(sorted, bookings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	touched := map[*slotQueue]bool{}
	for _, b := range sorted {
		q := e.queue(b.SlotID)
		q.mu.Lock()
		q.seq++
		q.seqs[b.ID] = q.seq
		if b.Status.Active() {
			q.active = append(q.active, b.Clone())
		} else {
			q.done[b.ID] = b.Clone()
			if b.Status == canteen.StatusServed && b.CalledAt != nil && b.ServedAt != nil {
				q.addSample(b.ServedAt.Sub(*b.CalledAt), e.sampleSize)
			}
		}
		day := e.DayKey(b.CreatedAt)
		if n := tokenSeq(b.TokenNumber); n > q.counters[day] {
			q.counters[day] = n
		}
		q.mu.Unlock()
		e.setIndex(b.ID, b.SlotID)
		touched[q] = true
	}
	for q := range touched {
		q.mu.Lock()
		next, _ := q.plan(func(active []canteen.Booking, _ map[string]uint64) []canteen.Booking { return active })
		q.commit(next)
		q.mu.Unlock()
	}
}
