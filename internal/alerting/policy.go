package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/canteen"
	kafkax "github.com/ariefcatur/canteen-queue/internal/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemResolver is recorded as ResolvedBy for automatic resolutions.
const SystemResolver = "system"

type Store interface {
	CreateAlert(ctx context.Context, a canteen.Alert) error
	GetAlert(ctx context.Context, id string) (canteen.Alert, error)
	OpenAlert(ctx context.Context, slotID string) (canteen.Alert, bool, error)
	// ResolveAlert must fail with canteen.ErrAlreadyResolved, leaving the
	// stored alert untouched, when it is already resolved.
	ResolveAlert(ctx context.Context, id, by, note string, at time.Time) (canteen.Alert, error)
	ListAlerts(ctx context.Context, resolved *bool) ([]canteen.Alert, error)
}

type OccupancySource interface {
	CurrentOccupancy(ctx context.Context, slotID string) (float64, error)
}

type SlotSource interface {
	Get(id string) (canteen.Slot, error)
	List() []canteen.Slot
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env canteen.Envelope) error
}

type Option func(*Policy)

func WithClock(now func() time.Time) Option { return func(p *Policy) { p.now = now } }
func WithPublisher(pub Publisher) Option { return func(p *Policy) { p.pub = pub } }
func WithProducerName(name string) Option { return func(p *Policy) { p.producer = name } }

// WithAutoResolve makes Evaluate resolve a slot's open alert once the crowd
// level drops below high. Off by default: alerts are resolved by staff.
func WithAutoResolve(on bool) Option { return func(p *Policy) { p.autoResolve = on } }

// Policy raises at most one unresolved alert per slot.
type Policy struct {
	mu          sync.Mutex
	store       Store
	occupancy   OccupancySource
	slots       SlotSource
	pub         Publisher
	log         *zap.Logger
	now         func() time.Time
	producer    string
	autoResolve bool
}

func NewPolicy(store Store, occupancy OccupancySource, slots SlotSource, log *zap.Logger, opts ...Option) *Policy {
	p := &Policy{
		store:     store,
		occupancy: occupancy,
		slots:     slots,
		log:       log,
		now:       time.Now,
		producer:  "canteen-alerter",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Evaluate checks one slot and returns the alert it raised, or nil.
func (p *Policy) Evaluate(ctx context.Context, slotID string) (*canteen.Alert, error) {
	slot, err := p.slots.Get(slotID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	occ, err := p.occupancy.CurrentOccupancy(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("occupancy %s: %w", slotID, err)
	}
	open, hasOpen, err := p.store.OpenAlert(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("open alert %s: %w", slotID, err)
	}

	if canteen.LevelFor(occ) != canteen.CrowdHigh {
		if p.autoResolve && hasOpen {
			note := fmt.Sprintf("occupancy dropped to %.0f%%", occ)
			if _, err := p.resolve(ctx, open.ID, SystemResolver, note); err != nil && !errors.Is(err, canteen.ErrAlreadyResolved) {
				return nil, err
			}
		}
		return nil, nil
	}
	if hasOpen {
		return nil, nil
	}

	sev := canteen.SeverityWarning
	if occ >= canteen.CriticalThreshold {
		sev = canteen.SeverityCritical
	}
	a := canteen.Alert{
		ID:        uuid.NewString(),
		SlotID:    slotID,
		Severity:  sev,
		Message:   fmt.Sprintf("%s is at %.0f%% capacity", slot.Name, occ),
		Occupancy: occ,
		CreatedAt: p.now().UTC(),
	}
	if err := p.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	p.log.Warn("overcrowding alert raised",
		zap.String("alert_id", a.ID),
		zap.String("slot_id", slotID),
		zap.String("severity", string(sev)),
		zap.Float64("occupancy", occ),
	)
	p.publish(ctx, canteen.EventAlertRaised, a)
	return &a, nil
}

// EvaluateAll runs Evaluate for every slot. A failing slot does not stop
// the others; their errors are joined.
func (p *Policy) EvaluateAll(ctx context.Context) ([]canteen.Alert, error) {
	var raised []canteen.Alert
	var errs []error
	for _, s := range p.slots.List() {
		a, err := p.Evaluate(ctx, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if a != nil {
			raised = append(raised, *a)
		}
	}
	return raised, errors.Join(errs...)
}

// Resolve closes an alert. Resolving twice fails with ErrAlreadyResolved
// and keeps the first resolution.
func (p *Policy) Resolve(ctx context.Context, alertID, by, note string) (canteen.Alert, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolve(ctx, alertID, by, note)
}

func (p *Policy) resolve(ctx context.Context, alertID, by, note string) (canteen.Alert, error) {
	a, err := p.store.ResolveAlert(ctx, alertID, by, note, p.now().UTC())
	if err != nil {
		return canteen.Alert{}, err
	}
	p.log.Info("alert resolved", zap.String("alert_id", a.ID), zap.String("slot_id", a.SlotID), zap.String("by", by))
	p.publish(ctx, canteen.EventAlertResolved, a)
	return a, nil
}

func (p *Policy) Get(ctx context.Context, alertID string) (canteen.Alert, error) {
	return p.store.GetAlert(ctx, alertID)
}

func (p *Policy) List(ctx context.Context, resolved *bool) ([]canteen.Alert, error) {
	return p.store.ListAlerts(ctx, resolved)
}

func (p *Policy) Summary(ctx context.Context) (canteen.AlertSummary, error) {
	all, err := p.store.ListAlerts(ctx, nil)
	if err != nil {
		return canteen.AlertSummary{}, err
	}
	sum := canteen.AlertSummary{Total: len(all)}
	for _, a := range all {
		if a.Resolved {
			sum.Resolved++
		} else {
			sum.Active++
		}
	}
	return sum, nil
}

func (p *Policy) publish(ctx context.Context, eventType string, a canteen.Alert) {
	if p.pub == nil {
		return
	}
	ev := canteen.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    p.now().UTC(),
		Producer:      p.producer,
		CorrelationID: a.ID,
		Payload: kafkax.MustMarshal(canteen.AlertEventPayload{
			AlertID:    a.ID,
			SlotID:     a.SlotID,
			Severity:   a.Severity,
			Occupancy:  a.Occupancy,
			ResolvedBy: a.ResolvedBy,
		}),
	}
	if err := p.pub.Publish(ctx, canteen.TopicAlertEvents, canteen.PartitionKey(a.SlotID), ev); err != nil {
		p.log.Error("publish alert event failed", zap.String("event_type", eventType), zap.String("alert_id", a.ID), zap.Error(err))
	}
}
