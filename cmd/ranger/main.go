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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/derekatbrim/ranger/internal/api"
	"github.com/derekatbrim/ranger/internal/config"
	"github.com/derekatbrim/ranger/internal/dedup"
	"github.com/derekatbrim/ranger/internal/geocode"
	"github.com/derekatbrim/ranger/internal/ingestion"
	"github.com/derekatbrim/ranger/internal/logging"
	"github.com/derekatbrim/ranger/internal/notify"
	"github.com/derekatbrim/ranger/internal/repository"
	"github.com/derekatbrim/ranger/internal/taxonomy"
	"github.com/derekatbrim/ranger/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	store, err := repository.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	table := taxonomy.Default()
	if cfg.Dedup.TaxonomyPath != "" {
		table, err = taxonomy.LoadFile(cfg.Dedup.TaxonomyPath)
		if err != nil {
			logging.Fatalf("Failed to load taxonomy table: %v", err)
		}
	}

	engine := dedup.NewEngine(store, table, dedup.Settings{
		RadiusMeters:   cfg.Dedup.RadiusMeters,
		TimeWindow:     cfg.Dedup.TimeWindow,
		MatchThreshold: cfg.Dedup.MatchThreshold,
		WeightDistance: cfg.Dedup.WeightDistance,
		WeightTime:     cfg.Dedup.WeightTime,
		WeightType:     cfg.Dedup.WeightType,
		WeightSource:   cfg.Dedup.WeightSource,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := notify.NewBroadcaster()

	var webhookWorker *webhook.Worker
	if cfg.Webhook.URL != "" {
		webhookWorker = webhook.NewWorker(cfg.Webhook, broadcaster)
		webhookWorker.Start(ctx)
	}

	geocoder := geocode.NewCentroidGeocoder(geocode.DefaultCentroids(), "mchenry county")

	mgr := ingestion.NewManager(cfg, store, engine, broadcaster, geocoder)
	mgr.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(10, 20))

	handler := api.NewHandler(store, mgr)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	if webhookWorker != nil {
		webhookWorker.Stop()
	}
	broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
