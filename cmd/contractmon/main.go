package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"gorm.io/gorm/logger"

	"github.com/akmatori/contractmon/internal/alerts"
	"github.com/akmatori/contractmon/internal/alerts/channels"
	"github.com/akmatori/contractmon/internal/catalog"
	"github.com/akmatori/contractmon/internal/checks"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/handlers"
	"github.com/akmatori/contractmon/internal/jobs"
	"github.com/akmatori/contractmon/internal/lineage"
	"github.com/akmatori/contractmon/internal/metrics"
	"github.com/akmatori/contractmon/internal/middleware"
	"github.com/akmatori/contractmon/internal/monitor"
	"github.com/akmatori/contractmon/internal/registry"
	"github.com/akmatori/contractmon/internal/reporting"
	"github.com/akmatori/contractmon/internal/scheduler"
	"github.com/akmatori/contractmon/internal/utils"
)

// maintenanceInterval is how often daily aggregates are refreshed
const maintenanceInterval = time.Hour

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting contract monitoring engine...")

	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Username:     cfg.AdminUsername,
		PasswordHash: passwordHash,
		Secret:       cfg.JWTSecret,
		TokenTTL:     time.Duration(cfg.JWTExpiryHours) * time.Hour,
		PublicPaths:  []string{"/health", "/metrics", handlers.LoginPath},
		FeedPath:     handlers.LiveFeedPath,
	})
	log.Printf("Operator authentication enabled for user: %s", cfg.AdminUsername)

	global, err := config.LoadMonitoringConfig(cfg.MonitoringConfigPath)
	if err != nil {
		log.Fatalf("Failed to load monitoring config: %v", err)
	}

	definitions, err := config.LoadContractDefinitions(cfg.ContractsFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load contract definitions: %v", err)
		}
		log.Printf("Warning: no contract definitions at %s", cfg.ContractsFile)
	}

	// Persistence Store. Without it the engine keeps checking and alerting
	// but records no history.
	var store *database.Store
	storeErr := database.Connect(cfg.DatabaseURL, logger.Warn)
	if storeErr == nil {
		storeErr = database.AutoMigrate(database.GetDB())
	}
	if storeErr != nil {
		log.Printf("Warning: history store unavailable, running without history: %s", utils.SanitizeError(storeErr))
	} else {
		store = database.NewStore(database.GetDB())
	}

	// Warehouse catalog and health probe
	if cfg.WarehouseURL == "" {
		log.Fatalf("WAREHOUSE_URL is not set")
	}
	whDB, err := database.Open(cfg.WarehouseURL, logger.Silent)
	if err != nil {
		log.Fatalf("Failed to connect to warehouse: %s", utils.SanitizeError(err))
	}
	warehouse := catalog.NewWarehouse(whDB)
	log.Printf("Warehouse catalog connected (%s)", whDB.Dialector.Name())

	clk := clock.RealClock{}
	promMetrics := metrics.NewPrometheus()

	// Alert channels
	liveFeed := channels.NewLiveFeed()
	chs := []alerts.Channel{channels.NewLog(nil), liveFeed}
	if cfg.SlackBotToken != "" {
		chs = append(chs, channels.NewSlack(slack.New(cfg.SlackBotToken), cfg.SlackChannel))
		log.Printf("Slack channel enabled")
	}
	if cfg.WebhookURL != "" {
		chs = append(chs, channels.NewWebhook("webhook", cfg.WebhookURL, &http.Client{Timeout: global.DispatchTimeout}))
		log.Printf("Webhook channel enabled")
	}
	channelSet, err := alerts.NewChannelSet(chs...)
	if err != nil {
		log.Fatalf("Failed to configure alert channels: %v", err)
	}

	routerOpts := alerts.RouterOptions{Channels: channelSet, Metrics: promMetrics, Clock: clk}
	monitorOpts := monitor.Options{Metrics: promMetrics, Clock: clk, StoreErr: storeErr}
	registryOpts := registry.Options{Global: global, Catalog: warehouse, Definitions: definitions, Clock: clk}
	if store != nil {
		routerOpts.State = store
		monitorOpts.Store = store
		registryOpts.Store = store
	}

	// Lineage sink
	if cfg.NATSURL != "" {
		publisher, err := lineage.NewPublisher(cfg.NATSURL, cfg.LineageSubject)
		if err != nil {
			log.Printf("Warning: lineage disabled: %s", utils.SanitizeError(err))
		} else {
			defer publisher.Close()
			monitorOpts.Lineage = publisher
			log.Printf("Lineage events published to %s", cfg.LineageSubject)
		}
	}

	router := alerts.NewRouter(routerOpts)
	monitorOpts.Router = router
	mon := monitor.New(monitorOpts)

	// Contract registry with cold start
	reg := registry.New(registryOpts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restored, err := reg.Restore(ctx)
	if err != nil {
		log.Printf("Warning: no contracts restored: %s", utils.SanitizeError(err))
	} else {
		log.Printf("Restored %d contract(s) from %s (%d skipped)", restored.Restored, restored.Source, restored.Skipped)
	}

	cfgs := []config.MonitoringConfig{global}
	for _, rc := range reg.ListActive() {
		cfgs = append(cfgs, rc.Config)
	}
	if err := channelSet.Validate(cfgs...); err != nil {
		log.Fatalf("Invalid alert configuration: %v", err)
	}

	// Checks and scheduler
	availability := checks.NewAvailabilityCheck(warehouse, clk)
	if store != nil {
		availability.WithHistory(store)
	}
	checkSet := checks.NewSet(
		checks.NewFreshnessCheck(warehouse, clk),
		checks.NewSchemaDriftCheck(warehouse),
		checks.NewQualityCheck(nil),
		availability,
	)

	sched := scheduler.New(scheduler.Options{
		Source:     reg,
		Checks:     checkSet,
		Handler:    mon,
		Overruns:   promMetrics,
		Clock:      clk,
		Resolution: time.Duration(cfg.SchedulerResolutionSeconds) * time.Second,
	})
	reg.OnDeregister(sched.Forget)
	reg.OnDeregister(availability.Forget)

	// HTTP handlers
	var history handlers.HistoryStore
	var reporter handlers.ComplianceReporter
	if store != nil {
		history = store
		reporter = reporting.NewReporter(store, global.TrendTolerance)
	}
	httpHandler := handlers.NewHTTPHandler(mon,
		func() int { return len(reg.ListActive()) },
		sched.InFlight,
		promMetrics.Handler(),
	)
	apiHandler := handlers.NewAPIHandler(handlers.APIOptions{
		Registry: reg,
		History:  history,
		Reporter: reporter,
		LiveFeed: liveFeed,
		Clock:    clk,
	})
	authHandler := handlers.NewAuthHandler(auth)

	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	authHandler.SetupRoutes(mux)

	handler := middleware.RequestIDMiddleware(middleware.AccessLog(auth.Middleware(mux)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Background work
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	stopMaintenance := make(chan struct{})
	if store != nil {
		maintenance := jobs.NewMaintenance(store, clk, global.Retention)
		go maintenance.Start(ctx, maintenanceInterval, stopMaintenance)
	}

	log.Printf("Engine is running with %d contract(s). Press Ctrl+C to exit.", len(reg.ListActive()))
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, cleaning up...")

	close(stopMaintenance)
	cancel()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	log.Println("Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	channelSet.Close()
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
	log.Println("Shutdown complete")
}
