package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/logger"
	"github.com/vcs-invoice-reconciler/internal/reconciler/components"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	dryRun := flag.Bool("dry-run", false, "classify and report without writing to the ledger")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-dry-run] <report-file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	path := flag.Arg(0)

	// Cancel on signal; bookings already in flight still finish
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize configuration
	cfg, err := config.LoadConfig("ingest")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *dryRun {
		cfg.Reconcile.DryRun = true
	}

	// stdout carries the run summary only
	log := logger.NewLoggerTo(cfg, os.Stderr)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read report", "path", path, "error", err)
		return 1
	}

	rt, err := components.OpenRuntime(appCtx, cfg, log, components.RuntimeOptions{ServiceName: "ingest"})
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	processor := components.CreateProcessingService(rt.Deps)
	ingestion, shutdownPool, err := components.CreateIngestionService(rt.Deps, processor)
	if err != nil {
		log.Error("Failed to create ingestion service", "error", err)
		return 1
	}
	defer shutdownPool()

	summary, err := ingestion.IngestReport(appCtx, filepath.Base(path), data)
	if summary == nil {
		summary = &service.RunSummary{ReportName: filepath.Base(path), DryRun: cfg.Reconcile.DryRun}
	}
	summary.Print(os.Stdout)

	if err != nil {
		log.Error("Ingestion failed", "report", path, "error", err)
		return 1
	}
	log.Info("Ingestion finished", "run_id", summary.RunID, "error_records", summary.Error)
	return 0
}
