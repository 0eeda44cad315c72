package httpx

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Registrar mounts a group of routes under /api.
type Registrar interface {
	Register(r chi.Router)
}

type RouterConfig struct {
	Log         *zap.Logger
	CORSOrigins []string
	Auth        *Authenticator
	Limiter     *RateLimiter
	// Board is mounted before auth; browsers cannot send headers on upgrade.
	Board *Board
	// Checks are run by /healthz, keyed by dependency name.
	Checks map[string]func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig, handlers ...Registrar) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(cfg.Log), middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	r.Get("/healthz", healthz(cfg.Checks, cfg.Log))

	r.Route("/api", func(r chi.Router) {
		if cfg.Board != nil {
			r.Get("/ws/slots/{id}", cfg.Board.ServeWS)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))
			if cfg.Auth != nil {
				r.Use(cfg.Auth.Middleware)
			}
			for _, h := range handlers {
				h.Register(r)
			}
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func healthz(checks map[string]func(ctx context.Context) error, log *zap.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + " unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
