package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/logger"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/consumers"
	"github.com/vcs-invoice-reconciler/internal/reconciler/components"
	"github.com/vcs-invoice-reconciler/internal/reconciler/consumer"
	"github.com/vcs-invoice-reconciler/internal/reconciler/pending_poller"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciler")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Reconciler",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"dry_run", cfg.Reconcile.DryRun,
	)

	// Initialize stores, producers and the ledger gateway
	rt, err := components.OpenRuntime(appCtx, cfg, log, components.RuntimeOptions{
		ServiceName: "reconciler",
		WithRepairs: true,
	})
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	processingService := components.CreateProcessingService(rt.Deps)
	sweeper := components.CreateSweeper(rt.Deps)

	// Initialize Kafka consumer of operator requeue requests
	var dlq consumers.DeadLetterSink
	if rt.DLQ != nil {
		dlq = rt.DLQ
	}
	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, dlq).WithRecorder(rt.Deps.Metrics)
	requeueHandler := consumer.NewRequeueHandler(log, processingService, rt.Deps.DLQ)

	// Initialize pending record poller
	poller := pending_poller.NewPoller(&cfg.Poller, rt.Deps.Records, processingService, log)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Deps.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Create error channel for service errors
	errChan := make(chan error, 3)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer
	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.RequeueTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, requeueHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("kafka consumer error: %w", err)
	}

	// Start pending poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Start(appCtx)
	}()

	// Start scheduled sweeps in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting scheduled sweeper", "interval", cfg.Sweeper.Interval.String())
		ticker := time.NewTicker(cfg.Sweeper.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				log.Info("Scheduled sweeper stopped")
				return
			case <-ticker.C:
				if _, err := sweeper.Run(appCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Scheduled sweep failed", "error", err)
				}
			}
		}
	}()

	// Start metrics server in a goroutine
	go func() {
		log.Info("Starting metrics server", "port", cfg.Server.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down metrics server", "error", err)
	}

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		<-kafkaConsumer.Done()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close Kafka consumer
	if err := kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	closeErr := rt.Close(shutdownCtx)

	// Final status
	if serviceErr != nil || closeErr != nil {
		log.Error("Reconciler shutdown completed with errors", "error", errors.Join(serviceErr, closeErr))
		os.Exit(1)
	}
	log.Info("Reconciler shutdown completed successfully")
}
