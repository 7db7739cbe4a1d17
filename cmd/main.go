package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raffle/internal/config"
	"raffle/internal/handlers"
	"raffle/internal/services"
	"raffle/internal/store"
	"raffle/internal/tiktok"
)

const janitorInterval = 10 * time.Minute

func setupLogger(cfg *config.Config) *logger.Logger {
	var out io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		out = f
	}
	return logger.Init("raffle", cfg.LogVerbose, false, out)
}

func setupStore(ctx context.Context, cfg *config.Config) store.ProfileStore {
	if cfg.CacheBackend != config.BackendRedis {
		return store.NewMemoryStore()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := store.NewRedisStore(connectCtx, cfg.RedisURL, cfg.RedisKeyPrefix)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	return s
}

func main() {
	clock := clockwork.NewRealClock()

	// 1. Load configuration and initialize logging
	cfg, err := config.Load()
	if err != nil {
		// Use log before the logger is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	defer setupLogger(cfg).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Select the profile store
	profileStore := setupStore(ctx, cfg)
	defer profileStore.Close()
	logger.Infof("Profile cache: %s", profileStore.Describe())
	if cfg.RapidAPIKey == "" {
		logger.Warning("RAPIDAPI_KEY is not set; profile lookups will fail with a configuration error")
	}

	// 3. Initialize the services
	upstream := tiktok.NewClient(tiktok.Config{
		APIKey:        cfg.RapidAPIKey,
		APIHost:       cfg.RapidAPIHost,
		BaseURL:       cfg.RapidAPIBaseURL,
		Timeout:       cfg.UpstreamTimeout,
		RatePerSecond: cfg.UpstreamRatePerSecond,
	})
	profileService := services.NewProfileService(profileStore, upstream, clock, cfg.ProfileFreshness)
	raffleService := services.NewRaffleService(services.NewDrawEngine(clock), profileService, clock, cfg.SessionIdleTimeout)

	// 4. Initialize the HTTP Handler
	httpHandler := handlers.NewHTTPHandler(raffleService, profileService, cfg.DefaultSpinDuration)

	// 5. Set up the Gin router
	r := gin.Default()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6. Register public routes (before middleware)
	httpHandler.RegisterPublicRoutes(r)

	// 7. Group routes that require tenant identification and apply middleware
	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	// 8. Start the background janitor to clean up inactive sessions
	go func() {
		ticker := clock.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				removed := raffleService.CleanUpInactiveSessions()
				logger.Infof("Performed cleanup of inactive sessions, removed %d.", removed)
			}
		}
	}()

	// 9. Run the server until a shutdown signal arrives
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Server starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}
}
