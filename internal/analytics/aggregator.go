// Package analytics derives crowd metrics from live counts and booking
// history. It never mutates anything.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

const (
	DefaultDays = 7
	MaxDays     = 90

	peakTopN      = 3
	peakNearShare = 0.8
)

// History returns a slot's bookings whose lifetime overlaps [from, to).
type History interface {
	BookingsBetween(ctx context.Context, slotID string, from, to time.Time) ([]canteen.Booking, error)
}

type LiveCounter interface {
	ActiveCount(ctx context.Context, slotID string) (int, error)
}

type SlotSource interface {
	Get(id string) (canteen.Slot, error)
	List() []canteen.Slot
}

type AlertCounter interface {
	Summary(ctx context.Context) (canteen.AlertSummary, error)
}

type PeakHour struct {
	Hour      int     `json:"hour"`
	Frequency float64 `json:"frequency"`
}

type SlotStats struct {
	SlotID           string             `json:"slot_id"`
	Name             string             `json:"name"`
	Capacity         int                `json:"capacity"`
	ActiveBookings   int                `json:"active_bookings"`
	CurrentOccupancy float64            `json:"current_occupancy"`
	CrowdLevel       canteen.CrowdLevel `json:"crowd_level"`
	AverageOccupancy float64            `json:"average_occupancy"`
	PeakHours        []PeakHour         `json:"peak_hours"`
}

type Snapshot struct {
	Days        int                  `json:"days"`
	GeneratedAt time.Time            `json:"generated_at"`
	Slots       []SlotStats          `json:"slots"`
	Alerts      canteen.AlertSummary `json:"alerts"`
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }
func WithLocation(loc *time.Location) Option { return func(a *Aggregator) { a.loc = loc } }
func WithAlertCounter(c AlertCounter) Option { return func(a *Aggregator) { a.alerts = c } }

type Aggregator struct {
	slots   SlotSource
	history History
	live    LiveCounter
	alerts  AlertCounter
	now     func() time.Time
	loc     *time.Location
}

func New(slots SlotSource, history History, live LiveCounter, opts ...Option) *Aggregator {
	a := &Aggregator{
		slots:   slots,
		history: history,
		live:    live,
		now:     time.Now,
		loc:     time.Local,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func ValidateDays(days int) error {
	if days < 1 || days > MaxDays {
		return fmt.Errorf("%w: days must be within 1..%d", canteen.ErrValidation, MaxDays)
	}
	return nil
}

// CurrentOccupancy is active/capacity×100 for the slot, clamped to [0,100].
func (a *Aggregator) CurrentOccupancy(ctx context.Context, slotID string) (float64, error) {
	slot, err := a.slots.Get(slotID)
	if err != nil {
		return 0, err
	}
	n, err := a.live.ActiveCount(ctx, slotID)
	if err != nil {
		return 0, fmt.Errorf("active count %s: %w", slotID, err)
	}
	return canteen.Occupancy(n, slot.Capacity), nil
}

func (a *Aggregator) CrowdLevel(occupancy float64) canteen.CrowdLevel {
	return canteen.LevelFor(occupancy)
}

// PeakHours ranks the slot's hours by how often they were a peak over the
// last days days, today included. An hour is a peak on a day when it is
// among the day's three busiest or within 80% of the busiest.
func (a *Aggregator) PeakHours(ctx context.Context, slotID string, days int) ([]PeakHour, error) {
	slot, w, err := a.window(ctx, slotID, days)
	if err != nil {
		return nil, err
	}
	return peakHours(slot, w), nil
}

// AverageOccupancy is the mean of each day's peak occupancy. Days without
// bookings count as zero, so the divisor is always days.
func (a *Aggregator) AverageOccupancy(ctx context.Context, slotID string, days int) (float64, error) {
	slot, w, err := a.window(ctx, slotID, days)
	if err != nil {
		return 0, err
	}
	return averageOccupancy(slot, w), nil
}

func (a *Aggregator) Snapshot(ctx context.Context, days int) (Snapshot, error) {
	if err := ValidateDays(days); err != nil {
		return Snapshot{}, err
	}
	out := Snapshot{Days: days, GeneratedAt: a.now().UTC()}
	for _, slot := range a.slots.List() {
		n, err := a.live.ActiveCount(ctx, slot.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("active count %s: %w", slot.ID, err)
		}
		_, w, err := a.window(ctx, slot.ID, days)
		if err != nil {
			return Snapshot{}, err
		}
		occ := canteen.Occupancy(n, slot.Capacity)
		out.Slots = append(out.Slots, SlotStats{
			SlotID:           slot.ID,
			Name:             slot.Name,
			Capacity:         slot.Capacity,
			ActiveBookings:   n,
			CurrentOccupancy: occ,
			CrowdLevel:       canteen.LevelFor(occ),
			AverageOccupancy: averageOccupancy(slot, w),
			PeakHours:        peakHours(slot, w),
		})
	}
	if a.alerts != nil {
		sum, err := a.alerts.Summary(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("alert summary: %w", err)
		}
		out.Alerts = sum
	}
	return out, nil
}

// window is the booking history of one slot split into calendar days.
type window struct {
	days     []time.Time // start of each day, oldest first
	now      time.Time
	bookings []canteen.Booking
}

func (a *Aggregator) window(ctx context.Context, slotID string, days int) (canteen.Slot, window, error) {
	if err := ValidateDays(days); err != nil {
		return canteen.Slot{}, window{}, err
	}
	slot, err := a.slots.Get(slotID)
	if err != nil {
		return canteen.Slot{}, window{}, err
	}

	now := a.now().In(a.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	w := window{now: now}
	for i := days - 1; i >= 0; i-- {
		w.days = append(w.days, today.AddDate(0, 0, -i))
	}
	from, to := w.days[0], today.AddDate(0, 0, 1)

	w.bookings, err = a.history.BookingsBetween(ctx, slotID, from, to)
	if err != nil {
		return canteen.Slot{}, window{}, fmt.Errorf("history %s: %w", slotID, err)
	}
	return slot, w, nil
}

func peakHours(slot canteen.Slot, w window) []PeakHour {
	peakDays := map[int]int{}
	for _, start := range w.days {
		end := start.AddDate(0, 0, 1)
		counts := map[int]int{}
		for _, b := range w.bookings {
			c := b.CreatedAt.In(start.Location())
			if c.Before(start) || !c.Before(end) || !slot.ContainsHour(c.Hour()) {
				continue
			}
			counts[c.Hour()]++
		}
		for _, h := range dayPeaks(counts) {
			peakDays[h]++
		}
	}

	out := make([]PeakHour, 0, len(peakDays))
	for h, n := range peakDays {
		out = append(out, PeakHour{Hour: h, Frequency: float64(n) / float64(len(w.days)) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Hour < out[j].Hour
	})
	if len(out) > peakTopN {
		out = out[:peakTopN]
	}
	return out
}

// dayPeaks returns the hours that count as a peak for one day's counts.
func dayPeaks(counts map[int]int) []int {
	type hc struct{ hour, n int }
	var ranked []hc
	max := 0
	for h, n := range counts {
		if n == 0 {
			continue
		}
		ranked = append(ranked, hc{h, n})
		if n > max {
			max = n
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].hour < ranked[j].hour
	})

	var out []int
	for i, r := range ranked {
		if i < peakTopN || float64(r.n) >= peakNearShare*float64(max) {
			out = append(out, r.hour)
		}
	}
	return out
}

func averageOccupancy(slot canteen.Slot, w window) float64 {
	if len(w.days) == 0 {
		return 0
	}
	var sum float64
	for _, start := range w.days {
		end := start.AddDate(0, 0, 1)
		if end.After(w.now) {
			end = w.now
		}
		sum += canteen.Occupancy(maxConcurrent(w.bookings, start, end), slot.Capacity)
	}
	return sum / float64(len(w.days))
}

// maxConcurrent sweeps booking lifetimes clipped to [from, to) and returns
// the highest number alive at once. A booking ending at t does not overlap
// one starting at t.
func maxConcurrent(bookings []canteen.Booking, from, to time.Time) int {
	type edge struct {
		at    time.Time
		delta int
	}
	var edges []edge
	for _, b := range bookings {
		start, end := b.CreatedAt, to
		if e := b.EndedAt(); e != nil && e.Before(to) {
			end = *e
		}
		if start.Before(from) {
			start = from
		}
		if !start.Before(end) {
			continue
		}
		edges = append(edges, edge{start, 1}, edge{end, -1})
	}
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].at.Equal(edges[j].at) {
			return edges[i].at.Before(edges[j].at)
		}
		return edges[i].delta < edges[j].delta
	})

	cur, max := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > max {
			max = cur
		}
	}
	return max
}
