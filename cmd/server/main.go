/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the habit engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load the YAML config
  2. Initialize SQLite store
  3. Create tracker, handler and refresh scheduler
  4. Roll every horizon forward once
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: habits.yaml, written on first run)
  -listen  HTTP listen address, overrides config
  -port    HTTP port, overrides -listen
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the refresh scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/habits.db"

  # Run with in-memory database on another port
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - config/config.go: Configuration file
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/habit-engine/api"
	"github.com/warp/habit-engine/config"
	"github.com/warp/habit-engine/habit"
	"github.com/warp/habit-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "habits.yaml", "YAML config path")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	port := flag.Int("port", 0, "HTTP server port (overrides -listen)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet.
		config.DefaultConfig().NewLogger(os.Stderr).Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *port > 0 {
		cfg.Listen = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := cfg.NewLogger(os.Stderr)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	tracker := habit.NewTracker(store, habit.Config{
		Expand:        cfg.ExpandConfig(),
		Horizon:       cfg.Horizon(),
		AdherenceDays: cfg.AdherenceDays,
		Logger:        logger,
	})

	// Initialize handler
	handler := api.NewHandler(tracker)
	handler.DefaultTimezone = cfg.Timezone
	handler.CORSOrigins = cfg.CORSOrigins

	scheduler := api.NewRefreshScheduler(tracker, cfg.RefreshCron)
	handler.Scheduler = scheduler

	// Catch up on horizons that went stale while the server was down
	if n, err := scheduler.RunNow(context.Background()); err != nil {
		logger.Warn("startup refresh incomplete", "refreshed", n, "err", err)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("invalid refresh schedule", "schedule", cfg.RefreshCron, "err", err)
		os.Exit(1)
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "listen", cfg.Listen, "db", cfg.DBPath, "timezone", cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("server stopped")
}
