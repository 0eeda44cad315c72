package slots

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

// Registry holds the fixed set of meal slots.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]canteen.Slot
}

func NewRegistry(initial ...canteen.Slot) (*Registry, error) {
	r := &Registry{slots: make(map[string]canteen.Slot, len(initial))}
	for _, s := range initial {
		if err := r.Put(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func Validate(s canteen.Slot) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: slot id is required", canteen.ErrValidation)
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: slot name is required", canteen.ErrValidation)
	case s.Start < 0 || s.End > 24*60:
		return fmt.Errorf("%w: slot window out of day range", canteen.ErrValidation)
	case s.Start >= s.End:
		return fmt.Errorf("%w: slot start must be before end", canteen.ErrValidation)
	case s.Capacity <= 0:
		return fmt.Errorf("%w: slot capacity must be positive", canteen.ErrValidation)
	case s.AvgServiceMinutes < 0:
		return fmt.Errorf("%w: service minutes must not be negative", canteen.ErrValidation)
	}
	return nil
}

// Put inserts or replaces a slot. An empty TokenPrefix defaults to the
// first letter of the name.
func (r *Registry) Put(s canteen.Slot) error {
	if err := Validate(s); err != nil {
		return err
	}
	if s.TokenPrefix == "" {
		first, _ := utf8.DecodeRuneInString(strings.TrimSpace(s.Name))
		s.TokenPrefix = string(unicode.ToUpper(first))
	}
	r.mu.Lock()
	r.slots[s.ID] = s
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(id string) (canteen.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return canteen.Slot{}, fmt.Errorf("slot %s: %w", id, canteen.ErrNotFound)
	}
	return s, nil
}

// List returns all slots ordered by start time.
func (r *Registry) List() []canteen.Slot {
	r.mu.RLock()
	out := make([]canteen.Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type Lister interface {
	ListSlots(ctx context.Context) ([]canteen.Slot, error)
}

// Reload replaces every slot with the lister's. Nothing changes when any
// slot is invalid.
func (r *Registry) Reload(ctx context.Context, src Lister) error {
	list, err := src.ListSlots(ctx)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	next, err := NewRegistry(list...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.slots = next.slots
	r.mu.Unlock()
	return nil
}
