package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/alerting"
	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/ariefcatur/canteen-queue/internal/config"
	"github.com/ariefcatur/canteen-queue/internal/httpx"
	kafkax "github.com/ariefcatur/canteen-queue/internal/kafka"
	"github.com/ariefcatur/canteen-queue/internal/memstore"
	"github.com/ariefcatur/canteen-queue/internal/postgres"
	"github.com/ariefcatur/canteen-queue/internal/queue"
	"github.com/ariefcatur/canteen-queue/internal/redisx"
	"go.uber.org/zap"
)

type bookingStore interface {
	queue.Store
	booking.Reader
	analytics.History
	LoadLive(ctx context.Context, since time.Time) ([]canteen.Booking, error)
}

type catalogStore interface {
	httpx.CatalogStore
	ListSlots(ctx context.Context) ([]canteen.Slot, error)
	ListMenu(ctx context.Context) ([]canteen.MenuItem, error)
}

// stores is everything the API keeps outside process memory. In memory
// mode status, publisher and bookingOpts stay empty.
type stores struct {
	bookings    bookingStore
	catalog     catalogStore
	alerts      alerting.Store
	status      httpx.StatusStore
	publisher   *kafkax.EventPublisher
	bookingOpts []booking.Option
	checks      map[string]func(ctx context.Context) error
	closers     []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := memstore.New()
		if err := mem.Seed(ctx); err != nil {
			return nil, err
		}
		logger.Warn("running on the in-memory store; data is lost on exit")
		return &stores{bookings: mem, catalog: mem, alerts: mem}, nil
	}

	st := &stores{checks: map[string]func(ctx context.Context) error{}}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	st.closers = append(st.closers, db.Close)
	if err := postgres.Migrate(ctx, db); err != nil {
		st.close()
		return nil, err
	}
	st.bookings = &postgres.BookingRepo{DB: db}
	st.catalog = &postgres.CatalogRepo{DB: db}
	st.alerts = &postgres.AlertRepo{DB: db}
	st.checks["postgres"] = db.Ping

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	st.closers = append(st.closers, func() { _ = rdb.Close() })
	st.checks["redis"] = redisx.Ping(rdb)
	cache := redisx.NewStatusCache(rdb)
	st.status = cache

	// Kafka producers; closing the inbox flushes what is queued.
	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{canteen.TopicBookingEvents, canteen.TopicAlertEvents} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, logger)
		p.Start(context.Background())
		producers[topic] = p
		st.closers = append(st.closers, func() {
			p.Close()
			p.WaitClosed()
		})
	}
	st.publisher = kafkax.NewEventPublisher(producers)

	st.bookingOpts = []booking.Option{
		booking.WithStatusCache(cache),
		booking.WithIdempotency(redisx.NewIdempotency(rdb)),
		booking.WithPublisher(st.publisher),
	}
	return st, nil
}
