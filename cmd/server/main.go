// Package main is the entry point for the StaffDesk calendar sync server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/staffdesk/backend/internal/api"
	"github.com/staffdesk/backend/internal/api/handlers"
	"github.com/staffdesk/backend/internal/feed"
	"github.com/staffdesk/backend/internal/provider"
	"github.com/staffdesk/backend/internal/storage"
	syncer "github.com/staffdesk/backend/internal/sync"
	"github.com/staffdesk/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// Parse command-line flags
	addr := flag.String("addr", ":8099", "HTTP server address")
	dataDir := flag.String("data", "/data", "Data directory for SQLite database")
	staticDir := flag.String("static", "./static", "Directory for static frontend files")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(*addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	// Allow overriding version via environment (e.g., injected by container build/runtime)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log.Printf("Starting StaffDesk calendar sync (version: %s)...", version)

	// Initialize database
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %q: %v", *dataDir, err)
	}
	dbPath := *dataDir + "/staffdesk.db"
	db, err := storage.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize repositories
	integrationRepo := storage.NewIntegrationRepository(db)
	eventRepo := storage.NewEventRepository(db)
	runRepo := storage.NewSyncRunRepository(db)
	subscriptionRepo := storage.NewSubscriptionRepository(db)

	// Provider configuration from environment
	providerCfg := provider.DefaultConfig()
	if providerCfg.ClientID == "" || providerCfg.ClientSecret == "" {
		log.Println("Warning: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, connecting integrations will fail")
	}

	// Initialize sync services
	vault := provider.NewVault(provider.NewOAuthRefresher(providerCfg), integrationRepo)
	engine := syncer.NewEngine(eventRepo)
	orchestrator := syncer.NewOrchestrator(
		integrationRepo,
		runRepo,
		engine,
		vault,
		providerCfg,
		provider.NewGoogleClient,
		broadcaster,
	)

	if err := orchestrator.Start(); err != nil {
		log.Fatalf("Failed to start sync orchestrator: %v", err)
	}

	// Initialize feed publisher
	publisher := feed.NewPublisher(eventRepo)

	// Initialize HTTP router
	router := api.NewRouter(api.Deps{
		DB:            db,
		Hub:           hub,
		Broadcaster:   broadcaster,
		Integrations:  integrationRepo,
		Events:        eventRepo,
		Runs:          runRepo,
		Subscriptions: subscriptionRepo,
		Publisher:     publisher,
		Orchestrator:  orchestrator,
		Vault:         vault,
		ConnectStates: handlers.NewConnectStateStore(),
		ProviderCfg:   providerCfg,
		StaticDir:     *staticDir,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop the orchestrator's scheduler
	orchestrator.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
