// Package main is the entry point for the media API server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/testforge/backend/internal/allocation"
	"github.com/testforge/backend/internal/config"
	"github.com/testforge/backend/internal/database"
	"github.com/testforge/backend/internal/handler"
	"github.com/testforge/backend/internal/middleware"
	"github.com/testforge/backend/internal/optimizer"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
	"github.com/testforge/backend/internal/pkg/secretbox"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/repository"
	"github.com/testforge/backend/internal/service"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting media API",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	box, err := secretbox.NewFromBase64(cfg.Security.CredentialKey)
	if err != nil {
		log.Fatalf("Invalid credential key: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	clk := clock.New()

	// Repositories
	pool := db.Pool()
	imageRepo := repository.NewImageRepository(pool)
	accountRepo := repository.NewStorageAccountRepository(pool)
	billingRepo := repository.NewBillingRepository(pool)
	ledger := repository.NewUsageLedger(pool)

	// Storage backends
	providers := provider.NewFactory(cfg.Providers, box,
		provider.WithClock(clk),
		provider.WithThumbnailSize(cfg.Media.ThumbnailSize),
	)
	selector := allocation.NewSelector(rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), clk)

	// Services
	mediaService := service.NewMediaService(
		imageRepo, accountRepo, billingRepo, ledger,
		optimizer.New(optimizer.Options{
			MaxWidth:  cfg.Media.MaxWidth,
			MaxHeight: cfg.Media.MaxHeight,
			Quality:   cfg.Media.Quality,
		}),
		selector, providers,
		service.MediaConfig{Folder: cfg.Media.Folder},
		clk, logger,
	)
	billingService := service.NewBillingService(billingRepo, imageRepo, clk)
	accountService := service.NewStorageAccountService(accountRepo, box, logger)
	jobs := service.NewUsageJobs(ledger, accountRepo, providers, service.JobsConfig{
		ResetInterval:     cfg.Media.ResetInterval,
		ReconcileInterval: cfg.Media.ReconcileInterval,
		ReconcileRate:     cfg.Media.ReconcileRate,
	}, clk, logger)

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	go jobs.Run(jobsCtx)

	// Handlers
	mediaHandler := handler.NewMediaHandler(mediaService, cfg.Media.MaxUploadBytes)
	billingHandler := handler.NewBillingHandler(billingService)
	adminHandler := handler.NewAdminHandler(accountService, jobs)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{
				"name":    "TestForge Media API",
				"version": "1.0.0",
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity())

			var uploadLimits []func(http.Handler) http.Handler
			if cfg.Server.UploadRateLimit > 0 {
				uploadLimits = append(uploadLimits, middleware.RateLimitByOrg(redis, middleware.RateLimitConfig{
					Name:              "uploads",
					RequestsPerMinute: cfg.Server.UploadRateLimit,
					BurstSize:         cfg.Server.UploadRateLimit / 10,
				}))
			}
			mediaHandler.RegisterRoutes(r, uploadLimits...)
			billingHandler.RegisterRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin))
				adminHandler.RegisterRoutes(r)
				billingHandler.RegisterAdminRoutes(r)
			})
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func readyHandler(db, redis pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			response.Error(w, apierrors.ErrServiceUnavailable.WithDetails(map[string]string{"component": "database"}))
			return
		}
		if err := redis.Ping(ctx); err != nil {
			response.Error(w, apierrors.ErrServiceUnavailable.WithDetails(map[string]string{"component": "redis"}))
			return
		}

		response.OK(w, map[string]string{"status": "ok", "database": "connected", "redis": "connected"})
	}
}
