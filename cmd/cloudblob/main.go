// cloudblob - document datastore over object storage
//
// Serves namespaces over the PostgreSQL wire protocol, exports them as JSON
// lines or SQL and imports JSON lines.
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

	"github.com/adrianmcphee/cloudblob"
	"github.com/adrianmcphee/cloudblob/internal/config"
	"github.com/adrianmcphee/cloudblob/internal/export"
	"github.com/adrianmcphee/cloudblob/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServer(args)
	case "export":
		err = runExport(args)
	case "import":
		err = runImport(args)
	case "help", "--help", "-h":
		printHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudblob: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`cloudblob - document datastore over object storage

Usage:
  cloudblob serve [flags]          Start the SQL gateway (default)
  cloudblob export --ns name       Export a namespace to stdout
  cloudblob import --ns name       Load JSON lines from stdin into a namespace

Serve flags:
  --config string  YAML configuration file
  --port int       Port to listen on (overrides server.addr)

Export flags:
  --config string  YAML configuration file
  --ns string      Namespace to export (required)
  --format string  jsonl or sql (default "jsonl")

Import flags:
  --config string  YAML configuration file
  --ns string      Namespace to import into (required)
  --batch int      Documents written per batch (default 100)`)
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	port := fs.Int("port", 0, "Port to listen on")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cloudblob.NewPrometheusMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, closeDatastore, err := cfg.Build(ctx, logger, metrics)
	if err != nil {
		return err
	}
	if err := ds.Ping(ctx); err != nil {
		logger.Warn("backend health check failed", "bucket", ds.Bucket(), "error", err)
	}
	cloudblob.Register(ds)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	server := protocol.NewServer(cfg.Server.Addr, ds, logger, metrics)

	var exporter *cloudblob.MetricsExporter
	var profiler *cloudblob.QueryProfiler
	if cfg.Server.ProfileInterval > 0 {
		profiler = cloudblob.NewQueryProfiler()
		profiler.SetSlowQueryThreshold(cfg.Server.SlowQuery)
		server.WithProfiler(profiler)
		exporter = cloudblob.NewMetricsExporter(profiler, metrics, cfg.Server.ProfileInterval)
		go exporter.Start(ctx)
	}

	if err := server.Listen(); err != nil {
		closeDatastore()
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	logger.Info("cloudblob started",
		"addr", cfg.Server.Addr,
		"backend", cfg.Backend.Type,
		"bucket", cfg.Bucket,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			logger.Error("sql gateway stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	server.Close()
	if profiler != nil {
		summary := profiler.GetSummary()
		if summary.TotalQueries > 0 {
			logger.Info("query profile since last export",
				"queries", summary.TotalQueries,
				"slow", summary.SlowQueries,
				"full_scans", summary.FullScans,
				"p95", summary.P95Duration,
			)
		}
		exporter.Stop()
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	dumped, dumpErr := ds.DumpIndexes(shutdownCtx)
	if dumpErr != nil {
		logger.Error("index dump failed", "error", dumpErr)
	} else if len(dumped) > 0 {
		logger.Info("indexes saved", "namespaces", dumped)
	}

	if cerr := closeDatastore(); cerr != nil {
		logger.Warn("close failed", "error", cerr)
	}
	cloudblob.Register(nil)

	if err != nil {
		return err
	}
	return dumpErr
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	namespace := fs.String("ns", "", "Namespace to export")
	format := fs.String("format", export.FormatJSONL, "Output format: jsonl or sql")
	fs.Parse(args)

	if *namespace == "" {
		return errors.New("export requires --ns")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Export output owns stdout; keep logs quiet on stderr
	cfg.Logging.Level = "warn"
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	ds, closeDatastore, err := cfg.Build(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer closeDatastore()

	n, err := export.Namespace(ctx, ds, *namespace, os.Stdout, export.Options{Format: *format})
	if err != nil {
		return err
	}
	logger.Info("export complete", "namespace", *namespace, "documents", n)
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	namespace := fs.String("ns", "", "Namespace to import into")
	batch := fs.Int("batch", export.DefaultPageSize, "Documents written per batch")
	fs.Parse(args)

	if *namespace == "" {
		return errors.New("import requires --ns")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, closeDatastore, err := cfg.Build(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer closeDatastore()

	n, err := export.Import(ctx, ds, *namespace, os.Stdin, export.Options{PageSize: *batch})
	logger.Info("import finished", "namespace", *namespace, "documents", n)
	if err != nil {
		return err
	}

	if nsCfg, _ := ds.NamespaceConfig(*namespace); nsCfg.Indexer != nil {
		if _, err := ds.DumpIndex(ctx, *namespace); err != nil {
			return err
		}
	}
	return nil
}
