package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/canteen-queue/internal/alerting"
	"github.com/ariefcatur/canteen-queue/internal/analytics"
	"github.com/ariefcatur/canteen-queue/internal/booking"
	"github.com/ariefcatur/canteen-queue/internal/config"
	"github.com/ariefcatur/canteen-queue/internal/httpx"
	"github.com/ariefcatur/canteen-queue/internal/logx"
	"github.com/ariefcatur/canteen-queue/internal/menu"
	"github.com/ariefcatur/canteen-queue/internal/queue"
	"github.com/ariefcatur/canteen-queue/internal/slots"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Storage, cache and events
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	registry, err := slots.NewRegistry()
	if err != nil {
		return err
	}
	if err := registry.Reload(ctx, st.catalog); err != nil {
		return err
	}
	catalog, err := menu.NewCatalog()
	if err != nil {
		return err
	}
	if err := catalog.Reload(ctx, st.catalog); err != nil {
		return err
	}

	// Live queues are rebuilt from today's bookings plus anything still open.
	engine := queue.NewEngine(registry, st.bookings,
		queue.WithLocation(loc),
		queue.WithDefaultServiceTime(cfg.DefaultServiceTime()),
	)
	now := time.Now().In(loc)
	live, err := st.bookings.LoadLive(ctx, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc))
	if err != nil {
		return err
	}
	engine.Restore(live)
	logger.Info("queues restored", zap.Int("bookings", len(live)), zap.Int("slots", len(registry.List())))

	board := httpx.NewBoard(engine, cfg.CORSOrigins, logger.Named("board"))
	go board.Run(ctx)

	opts := append(st.bookingOpts,
		booking.WithNotifier(board),
		booking.WithProducerName(cfg.ServiceName),
	)
	svc := booking.NewService(engine, catalog, st.bookings, logger.Named("booking"), opts...)

	occupancy := analytics.New(registry, st.bookings, engine, analytics.WithLocation(loc))
	policyOpts := []alerting.Option{
		alerting.WithAutoResolve(cfg.AlertAutoResolve),
		alerting.WithProducerName(cfg.ServiceName),
	}
	if st.publisher != nil {
		policyOpts = append(policyOpts, alerting.WithPublisher(st.publisher))
	}
	policy := alerting.NewPolicy(st.alerts, occupancy, registry, logger.Named("alerting"), policyOpts...)
	agg := analytics.New(registry, st.bookings, engine,
		analytics.WithLocation(loc),
		analytics.WithAlertCounter(policy),
	)

	limiter := httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Background jobs
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		if n := limiter.Sweep(10 * time.Minute); n > 0 {
			logger.Debug("rate limiter swept", zap.Int("visitors", n))
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("@hourly", func() {
		if n := engine.Prune(); n > 0 {
			logger.Info("settled bookings pruned from memory", zap.Int("bookings", n))
		}
	}); err != nil {
		return err
	}
	// Without a database there is no alerter process; sweep in-process.
	if cfg.StoreDriver == "memory" {
		if _, err := c.AddFunc(cfg.AlertSweepSpec, func() {
			sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if _, err := policy.EvaluateAll(sweepCtx); err != nil {
				logger.Warn("alert sweep", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	router := httpx.NewRouter(httpx.RouterConfig{
		Log:         logger.Named("http"),
		CORSOrigins: cfg.CORSOrigins,
		Auth:        httpx.NewAuthenticator(cfg.JWTSecret),
		Limiter:     limiter,
		Board:       board,
		Checks:      st.checks,
	},
		&httpx.BookingsHandler{Service: svc, Status: st.status, Log: logger},
		&httpx.SlotsHandler{Slots: registry, Menu: catalog, Store: st.catalog, Bookings: svc, Analytics: agg, Log: logger},
		&httpx.AdminHandler{Analytics: agg, Alerts: policy, Log: logger},
	)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
