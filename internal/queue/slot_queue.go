package queue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
)

// slotQueue is the state of one slot. All fields are guarded by mu.
type slotQueue struct {
	mu       sync.Mutex
	seq      uint64
	seqs     map[string]uint64 // insertion order, breaks createdAt ties
	active   []canteen.Booking // pending + serving in FIFO order
	done     map[string]canteen.Booking
	counters map[string]int // slot-day -> last token number issued
	samples  []time.Duration
	day      string // slot-day of the last prune
}

func newSlotQueue() *slotQueue {
	return &slotQueue{
		seqs:     make(map[string]uint64),
		done:     make(map[string]canteen.Booking),
		counters: make(map[string]int),
	}
}

func (q *slotQueue) has(id string) bool {
	if _, ok := q.done[id]; ok {
		return true
	}
	for i := range q.active {
		if q.active[i].ID == id {
			return true
		}
	}
	return false
}

func (q *slotQueue) find(id string) canteen.Booking {
	if b, ok := q.done[id]; ok {
		return b
	}
	return findIn(q.active, id)
}

func (q *slotQueue) activeCopy() []canteen.Booking {
	out := make([]canteen.Booking, len(q.active))
	for i := range q.active {
		out[i] = q.active[i].Clone()
	}
	return out
}

// plan applies fn to a copy of the active list, restores FIFO order and
// reranks it. It returns the new list and the bookings whose stored fields
// differ from the current state. q itself is not modified apart from the
// seqs entries fn adds for new bookings.
func (q *slotQueue) plan(fn func(active []canteen.Booking, seqs map[string]uint64) []canteen.Booking) ([]canteen.Booking, []canteen.Booking) {
	next := fn(q.activeCopy(), q.seqs)

	sort.SliceStable(next, func(i, j int) bool {
		a, b := next[i], next[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return q.seqs[a.ID] < q.seqs[b.ID]
	})
	rank(next)

	var changed []canteen.Booking
	for _, b := range next {
		prev, ok := q.lookupActive(b.ID)
		if !ok || !sameStored(prev, b) {
			changed = append(changed, b.Clone())
		}
	}
	return next, changed
}

func (q *slotQueue) commit(next []canteen.Booking) {
	q.active = next
}

func (q *slotQueue) lookupActive(id string) (canteen.Booking, bool) {
	for i := range q.active {
		if q.active[i].ID == id {
			return q.active[i], true
		}
	}
	return canteen.Booking{}, false
}

// prune drops terminal bookings settled before today and the token counters
// of earlier slot-days. It returns the ids of the dropped bookings.
func (q *slotQueue) prune(today string, dayOf func(time.Time) string) []string {
	var dropped []string
	for id, b := range q.done {
		if dayOf(b.UpdatedAt) < today {
			delete(q.done, id)
			delete(q.seqs, id)
			dropped = append(dropped, id)
		}
	}
	for day := range q.counters {
		if day < today {
			delete(q.counters, day)
		}
	}
	q.day = today
	return dropped
}

func (q *slotQueue) addSample(d time.Duration, max int) {
	if d <= 0 || max <= 0 {
		return
	}
	q.samples = append(q.samples, d)
	if len(q.samples) > max {
		q.samples = q.samples[len(q.samples)-max:]
	}
}

func (q *slotQueue) averageSample() (time.Duration, bool) {
	if len(q.samples) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range q.samples {
		sum += d
	}
	return sum / time.Duration(len(q.samples)), true
}

// rank numbers pending bookings 1..k in order. Serving bookings are at the
// counter and carry position 0.
func rank(active []canteen.Booking) {
	pos := 0
	for i := range active {
		if active[i].Status == canteen.StatusPending {
			pos++
			active[i].QueuePosition = pos
		} else {
			active[i].QueuePosition = 0
		}
	}
}

func sameStored(a, b canteen.Booking) bool {
	if a.Status != b.Status || a.QueuePosition != b.QueuePosition || a.SlotID != b.SlotID ||
		a.TokenNumber != b.TokenNumber || !a.UpdatedAt.Equal(b.UpdatedAt) || len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}

func without(active []canteen.Booking, id string) []canteen.Booking {
	out := active[:0]
	for _, b := range active {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

func findIn(list []canteen.Booking, id string) canteen.Booking {
	for i := range list {
		if list[i].ID == id {
			return list[i]
		}
	}
	return canteen.Booking{}
}

func appendUnique(list []canteen.Booking, b canteen.Booking) []canteen.Booking {
	for _, x := range list {
		if x.ID == b.ID {
			return list
		}
	}
	return append(list, b)
}

func tokenNumber(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// tokenSeq extracts the numeric suffix of a token number, 0 if none.
func tokenSeq(token string) int {
	n, err := strconv.Atoi(token[len(strings.TrimRightFunc(token, unicode.IsDigit)):])
	if err != nil {
		return 0
	}
	return n
}
