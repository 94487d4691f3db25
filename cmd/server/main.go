// Command main is the entry point for the payout API server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finsys/internal/bootstrap"
	"finsys/internal/config"
	"finsys/internal/jobs"
	"finsys/internal/middleware"
	"finsys/internal/observability"
	"finsys/internal/repository"
	"finsys/internal/server"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "finsys-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	policy, err := config.OpenPolicyStore(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := policy.Watch(rootCtx, middleware.Logger); err != nil {
		log.Printf("Policy hot reload disabled: %v", err)
	}

	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SeedDemoData: cfg.SeedDemoData})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(rootCtx, 30*time.Second)
	executor, err := bootstrap.NewExecutor(startupCtx, cfg, nil)
	cancelStartup()
	if err != nil {
		log.Fatalf("Failed to initialize payout executor: %v", err)
	}

	srv, err := server.NewServerWithDeps(cfg, db, redisClient, server.Deps{
		Policy:   policy,
		Executor: executor,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	reporter := jobs.NewStalePendingReporter(repository.NewPayoutRequestRepository(db), cfg.StalePendingAfter, nil)
	scheduler, err := jobs.NewScheduler(cfg.StaleReportSchedule, reporter)
	if err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:   "finsys",
		BodyLimit: 64 * 1024,
	})
	srv.SetupMiddleware(app)
	srv.SetupRoutes(app)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Wait for a running report before the database goes away.
		<-scheduler.Stop().Done()
		stop()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server resource shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s...", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}
