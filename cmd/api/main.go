package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/reelforge/internal/api"
	"github.com/bobarin/reelforge/internal/config"
	"github.com/bobarin/reelforge/internal/orchestrator"
	"github.com/bobarin/reelforge/internal/providers"
	"github.com/bobarin/reelforge/internal/scheduler"
	"github.com/bobarin/reelforge/internal/store"
)

func main() {
	log.Println("Starting Reelforge API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	cancel()

	// Connect to the Redis timer store
	sched, err := scheduler.New(cfg.RedisURL, cfg.SchedulerTick, cfg.SchedulerConcurrency)
	if err != nil {
		log.Fatalf("Failed to connect to scheduler: %v", err)
	}
	defer sched.Close()
	log.Println("Connected to Redis scheduler")

	// Create API handler
	factory := providers.DefaultFactory{}
	handler := api.NewHandler(database, sched, factory)
	router := api.NewRouter(handler, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting job orchestration...")

		orchCfg := orchestrator.DefaultConfig()
		orchCfg.PollInterval = cfg.PollInterval
		orchCfg.VideoPollCeiling = cfg.VideoPollCeiling
		orchCfg.CompilePollCeiling = cfg.CompilePollCeiling
		orchCfg.RetryBudget = cfg.RetryBudget
		orchCfg.CallTimeout = cfg.CallTimeout
		orchCfg.LeaseTTL = cfg.LeaseTTL

		orch := orchestrator.New(database, database, database, sched, factory, orchCfg)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())

		// Re-arm every non-terminal job so work interrupted by the previous
		// shutdown resumes immediately.
		resumable, err := database.ListResumableJobs(workerCtx)
		if err != nil {
			log.Fatalf("Failed to list resumable jobs: %v", err)
		}
		for _, id := range resumable {
			if err := sched.ArmAt(workerCtx, id, time.Now()); err != nil {
				log.Printf("Failed to re-arm job %s: %v", id, err)
			}
		}
		if len(resumable) > 0 {
			log.Printf("Re-armed %d resumable jobs", len(resumable))
		}

		go func() {
			if err := sched.Run(workerCtx, orch.Wake); err != nil && err != context.Canceled {
				log.Printf("Scheduler stopped: %v", err)
			}
		}()
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
