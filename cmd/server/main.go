package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/server"
	"github.com/temmyjay001/payments-core/internal/storage"
)

func main() {
	// Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.RunMigrations {
		if err := storage.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Database Connection
	db, err := storage.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	locker, closeLocker, err := lock.Open(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialise locks: %v", err)
	}
	defer closeLocker()

	// initialize server
	srv, err := server.New(cfg, db, locker)
	if err != nil {
		log.Fatalf("Failed to initialise server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var lifecycle conc.WaitGroup

	lifecycle.Go(func() {
		srv.StartWebhookRetryWorker(ctx)
	})
	lifecycle.Go(func() {
		srv.StartReconciliationWorker(ctx)
	})

	lifecycle.Go(func() {
		log.Printf("Server starting on %s:%s", cfg.Host, cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server failed: %v", err)
			cancel()
		}
	})

	// wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Println("Server shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop the workers after in-flight requests have drained
	cancel()
	lifecycle.Wait()

	log.Println("Server exited")
}
