package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/careconnectpt/link-service/internal/cache"
	"github.com/careconnectpt/link-service/internal/config"
	"github.com/careconnectpt/link-service/internal/database"
	"github.com/careconnectpt/link-service/internal/handlers"
	"github.com/careconnectpt/link-service/internal/middleware"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/notify"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/careconnectpt/link-service/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting link service")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize decision cache and notifier
	var decisionCache cache.Cache
	notifier := notify.Notifier(notify.Noop{})

	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisCache, err := cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		decisionCache = redisCache
		notifier = notify.NewRedisNotifier(redisCache.Client())
		log.Info().Msg("Redis cache and notifier initialized")
	} else if cfg.Cache.Enabled {
		decisionCache = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized; notifications disabled")
	} else {
		log.Info().Msg("Decision cache disabled")
	}
	if decisionCache != nil {
		defer decisionCache.Close()
	}

	// Initialize repositories
	linkRepo := repository.NewLinkRepository()
	userRepo := repository.NewUserRepository()
	auditRepo := repository.NewAuditRepository()

	// Initialize services
	clk := clock.System()
	linkService := services.NewLinkService(linkRepo, userRepo, auditRepo, decisionCache, cfg.Cache.TTL, notifier, clk)
	accessService := services.NewAccessService(linkRepo, decisionCache, cfg.Cache.TTL)
	authzService := services.NewAuthzService(accessService, clk)

	// Start the expiry sweeper
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := services.NewMaintenanceService(linkService, notifier, clk,
		cfg.Sweep.Interval, cfg.Sweep.ExpiringSoonEvery, cfg.Sweep.ExpiringSoonWindow)
	sweeper.Start(sweepCtx)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	linkHandler := handlers.NewLinkHandler(linkService, auditRepo)
	accessHandler := handlers.NewAccessHandler(authzService)
	maintenanceHandler := handlers.NewMaintenanceHandler(linkService)

	authenticator := middleware.NewAuthenticator(cfg.Auth.JWTSecret, userRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticator.Middleware)

		r.Route("/links/{kind}", func(r chi.Router) {
			r.Post("/", linkHandler.Create)
			r.Get("/", linkHandler.List)
			r.Get("/{id}", linkHandler.Get)
			r.Patch("/{id}", linkHandler.Update)
			r.Post("/{id}/suspend", linkHandler.Suspend)
			r.Post("/{id}/reactivate", linkHandler.Reactivate)
			r.Delete("/{id}", linkHandler.Revoke)

			r.With(middleware.RequireRole(models.RoleCaregiver, models.RoleAdmin)).
				Post("/{id}/extend", linkHandler.Extend)
			r.With(middleware.RequireRole(models.RoleAdmin)).
				Get("/{id}/audit", linkHandler.Audit)
		})

		// Authorization probe: the same decision RequirePatientAccess
		// enforces on patient-data routes.
		r.Get("/access/patients/{patientID}", accessHandler.Check)

		r.With(middleware.RequireRole(models.RoleAdmin)).
			Post("/maintenance/cleanup", maintenanceHandler.Cleanup)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	stopSweep()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
