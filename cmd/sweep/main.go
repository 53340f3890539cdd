package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/logger"
	"github.com/vcs-invoice-reconciler/internal/reconciler/components"
)

func main() {
	os.Exit(run())
}

func run() int {
	dryRun := flag.Bool("dry-run", false, "report drift without resetting orphaned records")
	flag.Parse()

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize configuration
	cfg, err := config.LoadConfig("sweep")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *dryRun {
		cfg.Reconcile.DryRun = true
	}

	log := logger.NewLoggerTo(cfg, os.Stderr)

	rt, err := components.OpenRuntime(appCtx, cfg, log, components.RuntimeOptions{
		ServiceName: "sweep",
		WithRepairs: true,
	})
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	rep, err := components.CreateSweeper(rt.Deps).Run(appCtx)
	if rep != nil {
		rep.Print(os.Stdout)
	}
	if err != nil {
		log.Error("Sweep failed", "error", err)
		return 1
	}
	return 0
}
