// Package memstore keeps slots, menu items, bookings and alerts in process
// memory. It satisfies the same ports as the Postgres repositories and is
// used for tests and for running the API without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

type Store struct {
	mu       sync.RWMutex
	slots    map[string]canteen.Slot
	menu     map[string]canteen.MenuItem
	bookings map[string]canteen.Booking
	alerts   map[string]canteen.Alert
}

func New() *Store {
	return &Store{
		slots:    make(map[string]canteen.Slot),
		menu:     make(map[string]canteen.MenuItem),
		bookings: make(map[string]canteen.Booking),
		alerts:   make(map[string]canteen.Alert),
	}
}

// ---- slots ----

func (s *Store) ListSlots(_ context.Context) ([]canteen.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]canteen.Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertSlot(_ context.Context, sl canteen.Slot) error {
	s.mu.Lock()
	s.slots[sl.ID] = sl
	s.mu.Unlock()
	return nil
}

// ---- menu ----

func (s *Store) ListMenu(_ context.Context) ([]canteen.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]canteen.MenuItem, 0, len(s.menu))
	for _, it := range s.menu {
		it.SlotIDs = append([]string(nil), it.SlotIDs...)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertMenuItem(_ context.Context, it canteen.MenuItem) error {
	it.SlotIDs = append([]string(nil), it.SlotIDs...)
	s.mu.Lock()
	s.menu[it.ID] = it
	s.mu.Unlock()
	return nil
}

// ---- bookings ----

func (s *Store) SaveBookings(_ context.Context, bookings ...canteen.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bookings {
		s.bookings[b.ID] = b.Clone()
	}
	return nil
}

func (s *Store) GetBooking(_ context.Context, id string) (canteen.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return canteen.Booking{}, fmt.Errorf("booking %s: %w", id, canteen.ErrNotFound)
	}
	return b.Clone(), nil
}

// ListByStudent returns the student's bookings, newest first.
func (s *Store) ListByStudent(_ context.Context, studentID string) ([]canteen.Booking, error) {
	return s.filter(func(b canteen.Booking) bool { return b.StudentID == studentID }, true), nil
}

// BookingsBetween returns the slot's bookings whose lifetime overlaps
// [from, to): created before to and not ended before from.
func (s *Store) BookingsBetween(_ context.Context, slotID string, from, to time.Time) ([]canteen.Booking, error) {
	return s.filter(func(b canteen.Booking) bool {
		if b.SlotID != slotID || !b.CreatedAt.Before(to) {
			return false
		}
		end := b.EndedAt()
		return end == nil || end.After(from)
	}, false), nil
}

func (s *Store) ActiveCount(_ context.Context, slotID string) (int, error) {
	return len(s.filter(func(b canteen.Booking) bool { return b.SlotID == slotID && b.Status.Active() }, false)), nil
}

// LoadLive returns what the queue engine needs at startup: every active
// booking plus everything created since the given time.
func (s *Store) LoadLive(_ context.Context, since time.Time) ([]canteen.Booking, error) {
	return s.filter(func(b canteen.Booking) bool { return b.Status.Active() || !b.CreatedAt.Before(since) }, false), nil
}

func (s *Store) filter(keep func(canteen.Booking) bool, newestFirst bool) []canteen.Booking {
	s.mu.RLock()
	var out []canteen.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ---- alerts ----

func (s *Store) CreateAlert(_ context.Context, a canteen.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return fmt.Errorf("%w: alert %s already exists", canteen.ErrValidation, a.ID)
	}
	s.alerts[a.ID] = a
	return nil
}

func (s *Store) GetAlert(_ context.Context, id string) (canteen.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return canteen.Alert{}, fmt.Errorf("alert %s: %w", id, canteen.ErrNotFound)
	}
	return a, nil
}

// OpenAlert returns the unresolved alert of a slot, if any.
func (s *Store) OpenAlert(_ context.Context, slotID string) (canteen.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.SlotID == slotID && !a.Resolved {
			return a, true, nil
		}
	}
	return canteen.Alert{}, false, nil
}

func (s *Store) ResolveAlert(_ context.Context, id, by, note string, at time.Time) (canteen.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return canteen.Alert{}, fmt.Errorf("alert %s: %w", id, canteen.ErrNotFound)
	}
	if a.Resolved {
		return a, fmt.Errorf("alert %s: %w", id, canteen.ErrAlreadyResolved)
	}
	a.Resolved = true
	a.ResolvedBy = by
	a.Note = note
	a.ResolvedAt = &at
	s.alerts[id] = a
	return a, nil
}

// ListAlerts returns alerts newest first, optionally filtered by state.
func (s *Store) ListAlerts(_ context.Context, resolved *bool) ([]canteen.Alert, error) {
	s.mu.RLock()
	out := make([]canteen.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if resolved == nil || a.Resolved == *resolved {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
