package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brightpath/focus-tracker/internal/client"
	"brightpath/focus-tracker/internal/collector"
	"brightpath/focus-tracker/internal/config"
	"brightpath/focus-tracker/internal/database"
	"brightpath/focus-tracker/internal/device"
	"brightpath/focus-tracker/internal/ledger"
	"brightpath/focus-tracker/internal/logger"
	"brightpath/focus-tracker/internal/models"
	"brightpath/focus-tracker/internal/platform"
	"brightpath/focus-tracker/internal/queue"
	"brightpath/focus-tracker/internal/recorder"
	"brightpath/focus-tracker/internal/repository"
	"brightpath/focus-tracker/internal/server"
	"brightpath/focus-tracker/internal/service"
	"brightpath/focus-tracker/internal/tracker"

	"go.uber.org/zap"
)

// overdueSource adapts the API client to the ledger writer's sweep.
type overdueSource struct {
	client    *client.APIClient
	studentID string
}

func (s *overdueSource) OverdueItems(ctx context.Context) ([]models.OverdueAssignment, error) {
	return s.client.ListOverdueAssignments(ctx, s.studentID)
}

func main() {
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Student.ID == "" {
		log.Fatal("No student id configured")
	}

	log.Info("Starting focus tracker",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
		zap.String("student_id", cfg.Student.ID),
	)

	// Local durable storage: recovery breadcrumbs + offline event queue
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	deviceInfo := device.Detect(cfg.Student.UserAgent)
	log.Info("Detected device",
		zap.String("device_type", deviceInfo.Type),
		zap.String("browser", deviceInfo.Browser),
		zap.String("instance_id", device.InstanceID()),
	)

	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)

	eventQueue := queue.NewEventQueue(db.DB, log.Logger)
	breadcrumbs := repository.NewBreadcrumbRepository(db.DB)

	eventCollector := collector.NewEventCollector(
		cfg.Tracking.BatchSize,
		time.Duration(cfg.Tracking.BatchFlushInterval)*time.Second,
		log.Logger,
	)

	idleDetector := tracker.NewIdleDetector(tracker.IdleConfig{
		WarningThreshold: time.Duration(cfg.Tracking.WarningThresholdMs) * time.Millisecond,
		IdleThreshold:    time.Duration(cfg.Tracking.IdleThresholdMs) * time.Millisecond,
		CheckInterval:    time.Duration(cfg.Tracking.CheckIntervalMs) * time.Millisecond,
		PointerThrottle:  time.Duration(cfg.Tracking.PointerThrottleMs) * time.Millisecond,
		ScrollThrottle:   time.Duration(cfg.Tracking.ScrollThrottleMs) * time.Millisecond,
	}, log.Logger)

	visibilityMon := tracker.NewVisibilityMonitor(tracker.VisibilityConfig{
		FocusDwell: time.Duration(cfg.Tracking.FocusDwellMs) * time.Millisecond,
		BlurGrace:  time.Duration(cfg.Tracking.BlurGraceMs) * time.Millisecond,
		MinAway:    time.Duration(cfg.Tracking.MinAwayMs) * time.Millisecond,
	}, log.Logger)

	sessionRecorder := recorder.NewSessionRecorder(
		apiClient,
		breadcrumbs,
		eventCollector,
		recorder.Config{
			StudentID:    cfg.Student.ID,
			DeviceType:   deviceInfo.Type,
			Browser:      deviceInfo.Browser,
			SyncInterval: time.Duration(cfg.Tracking.SyncInterval) * time.Second,
		},
		log.Logger,
	)

	ledgerWriter := ledger.NewWriter(
		apiClient,
		&overdueSource{client: apiClient, studentID: cfg.Student.ID},
		ledger.Config{
			PenaltyAmount:          cfg.Ledger.PenaltyAmount,
			RewardAmount:           cfg.Ledger.RewardAmount,
			RewardMinActiveSeconds: int64(cfg.Ledger.RewardMinActiveSecs),
			SweepInterval:          time.Duration(cfg.Ledger.SweepInterval) * time.Second,
			InitialDelay:           time.Duration(cfg.Ledger.SweepInitialDelayMs) * time.Millisecond,
		},
		log.Logger,
	)

	// The hosting UI feeds input and visibility events through this
	// source; nothing is hooked at the OS level.
	eventSource := platform.NewChannelSource()

	trackingService := service.NewTrackingService(
		eventSource,
		idleDetector,
		visibilityMon,
		sessionRecorder,
		eventCollector,
		apiClient,
		eventQueue,
		ledgerWriter,
		cfg.Student.ID,
		time.Duration(cfg.Tracking.QueueRetryInterval)*time.Second,
		log.Logger,
	)

	if err := trackingService.Start(); err != nil {
		log.Fatal("Failed to start tracking service", zap.Error(err))
	}

	var controlHTTPServer *http.Server
	if cfg.Server.Enabled {
		controlServer := server.NewControlServer(trackingService, log.Logger)
		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		controlHTTPServer = &http.Server{
			Addr:         addr,
			Handler:      controlServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting control server", zap.String("address", addr))
			if err := controlHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Control server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Control server disabled in configuration")
	}

	log.Info("Focus tracker started successfully",
		zap.String("student_id", cfg.Student.ID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	log.Info("Shutting down focus tracker...")

	if controlHTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := controlHTTPServer.Shutdown(ctx); err != nil {
			log.Warn("Control server shutdown error", zap.Error(err))
		} else {
			log.Info("Control server stopped")
		}
	}

	// Tracking stop issues the best-effort terminal session flush
	done := make(chan struct{})
	go func() {
		trackingService.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Tracking service stopped successfully")
	case <-time.After(5 * time.Second):
		log.Warn("Shutdown timeout reached, forcing immediate exit")
		os.Exit(1)
	}

	// Drop events that exhausted their retries
	if err := eventQueue.CleanupOldEvents(7 * 24 * time.Hour); err != nil {
		log.Error("Failed to cleanup old events", zap.Error(err))
	}

	log.Info("Focus tracker stopped")
}
