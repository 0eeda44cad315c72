package canteen

import (
	"fmt"
	"time"
)

// Slot is a meal time window. Start and End are minutes since midnight.
type Slot struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Start             int    `json:"-"`
	End               int    `json:"-"`
	Capacity          int    `json:"capacity"`
	Active            bool   `json:"active"`
	TokenPrefix       string `json:"token_prefix"`
	AvgServiceMinutes int    `json:"avg_service_minutes"`
}

// ContainsHour reports whether the hour-of-day falls inside the slot window.
func (s Slot) ContainsHour(hour int) bool {
	return hour*60+59 >= s.Start && hour*60 < s.End
}

// Hours lists every hour-of-day the window touches, ascending.
func (s Slot) Hours() []int {
	var out []int
	for h := s.Start / 60; h*60 < s.End && h < 24; h++ {
		out = append(out, h)
	}
	return out
}

// ClockString renders minutes since midnight as HH:MM.
func ClockString(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// ParseClock parses HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad clock %q", ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type MenuItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceCents int      `json:"price_cents"`
	SlotIDs    []string `json:"slot_ids"`
	Available  bool     `json:"available"`
}

// ServedIn reports whether the item is on the slot's menu.
func (m MenuItem) ServedIn(slotID string) bool {
	for _, id := range m.SlotIDs {
		if id == slotID {
			return true
		}
	}
	return false
}

type ItemQty struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
}

// Booking is a student's token in a slot queue. There is no stored total:
// see menu.Catalog.Total.
type Booking struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	SlotID        string     `json:"slot_id"`
	Items         []ItemQty  `json:"items"`
	Status        Status     `json:"status"`
	QueuePosition int        `json:"queue_position"`
	TokenNumber   string     `json:"token_number"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of a locked section.
func (b Booking) Clone() Booking {
	out := b
	out.Items = append([]ItemQty(nil), b.Items...)
	out.CalledAt = cloneTime(b.CalledAt)
	out.ServedAt = cloneTime(b.ServedAt)
	out.CancelledAt = cloneTime(b.CancelledAt)
	return out
}

// EndedAt is when the booking stopped occupying capacity, nil while active.
func (b Booking) EndedAt() *time.Time {
	switch b.Status {
	case StatusServed:
		return b.ServedAt
	case StatusCancelled:
		return b.CancelledAt
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID         string     `json:"id"`
	SlotID     string     `json:"slot_id"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Occupancy  float64    `json:"occupancy"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type AlertSummary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Resolved int `json:"resolved"`
}
