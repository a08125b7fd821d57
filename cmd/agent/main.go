package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/offlinehq/eventsync/internal/config"
	"github.com/offlinehq/eventsync/internal/connectivity"
	"github.com/offlinehq/eventsync/internal/handlers"
	"github.com/offlinehq/eventsync/internal/remote"
	"github.com/offlinehq/eventsync/internal/repositories"
	"github.com/offlinehq/eventsync/internal/services"
	"github.com/offlinehq/eventsync/internal/storage"
	"github.com/offlinehq/eventsync/internal/syncer"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Local durable stores
	postgresPool, err := storage.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := storage.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	mutationRepo := repositories.NewPostgresMutationRepository(postgresPool)
	if err := mutationRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	cacheRepo := repositories.NewRedisCacheRepository(redisClient, map[string]time.Duration{
		services.CacheKindCatalog: cfg.CatalogTTL,
		services.CacheKindUser:    cfg.UserTTL,
	}, cfg.UserTTL)
	sessionRepo := repositories.NewRedisSessionRepository(redisClient)

	// Connectivity
	monitor, err := connectivity.NewMonitor(cfg.StateFile, log.WithField("component", "connectivity"))
	if err != nil {
		log.Fatalf("Failed to init connectivity monitor: %v", err)
	}
	prober := connectivity.NewProber(monitor, cfg.AuthorityURL+"/health", cfg.ProbeInterval,
		log.WithField("component", "prober"))
	go prober.Run(ctx)

	// Remote authority
	authority := remote.NewClient(cfg.AuthorityURL, cfg.UploadTimeout, func(ctx context.Context) string {
		session, err := sessionRepo.Current(ctx)
		if err != nil || session.Offline {
			return ""
		}
		return session.Token
	}, log.WithField("component", "remote"))

	// Services
	sessionService := services.NewSessionService(sessionRepo, mutationRepo, authority,
		log.WithField("component", "sessions"))
	catalogService := services.NewCatalogService(cacheRepo, authority, monitor.EffectivelyOnline,
		log.WithField("component", "catalog"))

	// Sync pipeline
	engine := syncer.NewEngine(mutationRepo, authority, sessionService,
		monitor.EffectivelyOnline, nil, log.WithField("component", "engine"))
	coordinator := syncer.NewCoordinator(engine, mutationRepo, cfg.BackoffDelay,
		log.WithField("component", "coordinator"))

	events, unsubscribe := monitor.Subscribe()
	defer unsubscribe()
	go coordinator.Watch(ctx, events)

	// Warm the catalog cache when reachable so offline browsing has data.
	if monitor.EffectivelyOnline() {
		if err := catalogService.Warm(ctx); err != nil {
			log.WithError(err).Warn("catalog warm-up failed")
		}
	}

	// Local HTTP API
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := handlers.NewHandler(mutationRepo, coordinator, monitor, catalogService,
		sessionService, log.WithField("component", "api"))
	router.Group(handler.Routes)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.AgentPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down agent...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting agent on port %s", cfg.AgentPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Info("Agent stopped gracefully")
}
