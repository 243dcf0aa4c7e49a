package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mikey/inbox-triage/internal/config"
	"github.com/mikey/inbox-triage/internal/core"
	"github.com/mikey/inbox-triage/internal/di"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	service *core.TriageService,
	triageStore core.Store,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Auto-refresh: process unread mail on a fixed interval. Overlapping
	// runs are shed by the engine's busy flag rather than queued.
	scheduler := cron.New()
	if cfg.GetBool("scheduler.enabled") {
		interval, err := cfg.GetDuration("scheduler.interval")
		if err != nil {
			return fmt.Errorf("invalid scheduler interval: %w", err)
		}
		if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			results, err := service.ProcessUnread(ctx)
			if errors.Is(err, core.ErrBusy) {
				logger.Info("Skipping auto-refresh, previous run still in progress")
				return
			}
			if err != nil {
				logger.Error("Auto-refresh failed", zap.Error(err))
				return
			}
			logger.Info("Auto-refresh complete", zap.Int("messages", len(results)))
		}); err != nil {
			return fmt.Errorf("failed to schedule auto-refresh: %w", err)
		}
		scheduler.Start()
		logger.Info("Started auto-refresh", zap.Duration("interval", interval))
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")
	cancel()

	// Let the in-flight auto-refresh run finish before closing the store.
	<-scheduler.Stop().Done()

	if closer, ok := triageStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
