package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/alerting"
	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/canteen"
	"github.com/ariefcatur/canteen-queue/internal/config"
	kafkax "github.com/ariefcatur/canteen-queue/internal/kafka"
	"github.com/ariefcatur/canteen-queue/internal/logx"
	"github.com/ariefcatur/canteen-queue/internal/postgres"
	"github.com/ariefcatur/canteen-queue/internal/redisx"
	"github.com/ariefcatur/canteen-queue/internal/slots"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		log.Fatalf("alerter needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	logger, err := logx.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName+"-alerter"))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("alerter stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// DB; the API owns migrations.
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	bookings := &postgres.BookingRepo{DB: db}
	catalog := &postgres.CatalogRepo{DB: db}

	registry, err := slots.NewRegistry()
	if err != nil {
		return err
	}
	if err := registry.Reload(ctx, catalog); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for alert events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, canteen.TopicAlertEvents, 1024, logger)
	prod.Start(context.Background())
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	occupancy := analytics.New(registry, bookings, bookings, analytics.WithLocation(loc))
	policy := alerting.NewPolicy(&postgres.AlertRepo{DB: db}, occupancy, registry, logger.Named("alerting"),
		alerting.WithPublisher(kafkax.NewEventPublisher(map[string]*kafkax.Producer{canteen.TopicAlertEvents: prod})),
		alerting.WithProducerName(cfg.ServiceName+"-alerter"),
		alerting.WithAutoResolve(cfg.AlertAutoResolve),
	)
	handler := &alerting.EventHandler{
		Policy: policy,
		Dedup:  redisx.NewDedup(rdb, cfg.AlerterGroup),
		Log:    logger.Named("consumer"),
	}

	// Periodic sweep catches slots that crossed a threshold without an event
	// reaching us, and picks up slot changes made through the API.
	sweep := cron.New(cron.WithLocation(loc))
	if _, err := sweep.AddFunc(cfg.AlertSweepSpec, func() {
		sctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if err := registry.Reload(sctx, catalog); err != nil {
			logger.Warn("slot reload failed", zap.Error(err))
		}
		raised, err := policy.EvaluateAll(sctx)
		if err != nil {
			logger.Warn("alert sweep", zap.Error(err))
		}
		if len(raised) > 0 {
			logger.Info("alert sweep raised alerts", zap.Int("count", len(raised)))
		}
	}); err != nil {
		return err
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.AlerterGroup, canteen.TopicBookingEvents, cfg.AlerterWorkers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("consumer started",
			zap.String("group", cfg.AlerterGroup),
			zap.String("topic", canteen.TopicBookingEvents),
			zap.Int("workers", cfg.AlerterWorkers),
		)
		return cons.Start(gctx, handler.HandleBookingEvent)
	})
	g.Go(func() error {
		sweep.Start()
		<-gctx.Done()
		<-sweep.Stop().Done()
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down alerter")
	return err
}
