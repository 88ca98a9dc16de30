package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/tindesk/pnl-engine/internal/metrics"
	"github.com/tindesk/pnl-engine/internal/store"
	"github.com/tindesk/pnl-engine/internal/trading"
	"github.com/tindesk/pnl-engine/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := valuation.NewHub()
	go hub.Run()

	// --- Valuation engine & services ---
	engine := valuation.NewEngine(st, hub)
	valuationSvc := valuation.NewService(engine, st)
	tradingSvc := trading.NewService(st, hub)

	// --- Optional scheduled daily valuation ---
	// The engine stays trigger-agnostic; the scheduler is just another
	// external caller.
	if spec := os.Getenv("VALUATION_CRON"); spec != "" {
		c := cron.New()
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := engine.RunDaily(ctx, time.Now().UTC()); err != nil {
				slog.Error("scheduled daily valuation failed", "err", err)
			}
		})
		if err != nil {
			slog.Error("invalid VALUATION_CRON", "spec", spec, "err", err)
			os.Exit(1)
		}
		c.Start()
		cleanup = append(cleanup, func() { c.Stop() })
		slog.Info("daily valuation scheduled", "cron", spec)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pnl-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for valuation and curve events.
		r.Get("/ws", hub.HandleWS)

		// Trade and delivery records.
		r.Get("/trades", tradingSvc.ListTrades)
		r.Post("/trades", tradingSvc.CreateTrade)
		r.Get("/deliveries", tradingSvc.ListDeliveries)
		r.Post("/deliveries", tradingSvc.CreateDelivery)

		// Futures curve ingestion and display.
		r.Get("/curve", tradingSvc.GetCurve)
		r.Post("/curve", tradingSvc.UpsertCurve)

		// Valuation runs and history.
		r.Post("/valuations/calculate", valuationSvc.Calculate)
		r.Get("/valuations/monthly", valuationSvc.ListMonthly)
		r.Get("/valuations/daily", valuationSvc.ListDaily)

		// Dashboard snapshot.
		r.Get("/dashboard", tradingSvc.GetDashboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pnl-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down pnl-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pnl-engine stopped")
}
