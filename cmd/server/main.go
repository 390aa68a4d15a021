/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory correlation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start the background state refresher
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: inventory.db)
              Use ":memory:" for in-memory database
  -lookback   Reconciliation lookback window (default: 72h)
  -refresh    Background refresh interval (default: 1m, 0 disables)
  -memo-ttl   Derived-state memo TTL (default: 30s)
  -log-level  logrus level: debug, info, warn, error (default: info)

ENVIRONMENT:
  PORT, DB_PATH, LOOKBACK_WINDOW, REFRESH_INTERVAL, MEMO_TTL, LOG_LEVEL
  override the flag defaults. A .env file in the working directory is
  loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the background refresher
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/inventory.db"

  # Run with in-memory database and fast refresh
  ./server -db=":memory:" -refresh=5s

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/store/sqlite"
)

func main() {
	// .env values become defaults; explicit environment wins over the file.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "inventory.db"), "SQLite database path")
	lookback := flag.Duration("lookback", envDuration("LOOKBACK_WINDOW", inventory.DefaultLookbackWindow), "reconciliation lookback window")
	refresh := flag.Duration("refresh", envDuration("REFRESH_INTERVAL", 1*time.Minute), "background refresh interval (0 disables)")
	memoTTL := flag.Duration("memo-ttl", envDuration("MEMO_TTL", inventory.DefaultMemoTTL), "derived-state memo TTL")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	// Logger
	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, inventory.ReconcilerConfig{
		LookbackWindow: *lookback,
		MemoTTL:        *memoTTL,
	}, log)

	// Background refresher
	refresher := api.NewStateRefresher(store, handler.Reconciler, log)
	if *refresh > 0 {
		refresher.CheckInterval = *refresh
	} else {
		refresher.Enabled = false
	}
	refresher.Start()
	defer refresher.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
