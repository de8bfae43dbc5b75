// Islandd is the multi-tenant vector index daemon.
//
// It keeps one vector partition per (project, dataset) pair, syncs source
// trees into them incrementally and answers scoped searches over HTTP.
//
// Configuration is read from ~/.config/islandd/config.yaml (or the file
// given with -config) and overridden by ISLANDD_* environment variables.
// See internal/config for the full mapping.
//
// Usage:
//
//	# Start with defaults (sqlite metadata, embedded chromem vectors)
//	islandd
//
//	# Point at a shared Qdrant and MySQL
//	ISLANDD_VECTORSTORE_PROVIDER=qdrant ISLANDD_METADATA_DRIVER=mysql \
//	ISLANDD_METADATA_DSN='islandd:secret@tcp(db:3306)/islandd' islandd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/config"
	islandhttp "github.com/fyrsmithlabs/islandd/internal/http"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/services"
	"github.com/fyrsmithlabs/islandd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/islandd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  islandd [-config path]   Start the islandd daemon\n")
			fmt.Fprintf(os.Stderr, "  islandd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("islandd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Telemetry, then the logger (so logs can be bridged to OTEL)
//  3. Metadata store, vector backend, embedder and the services on top
//  4. Reconcile scheduler and change watchers
//  5. HTTP API
//
// Shutdown runs in reverse.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSection(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting islandd",
		zap.String("version", version),
		zap.String("metadata_driver", cfg.Metadata.Driver),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("telemetry", tel.Status().String()))

	reg, err := services.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer reg.Close()

	if sched := reg.Scheduler(); sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reconcile scheduler: %w", err)
		}
	}

	watchers, err := services.StartWatchers(ctx, reg, cfg.Watch, logger)
	if err != nil {
		return fmt.Errorf("failed to start watchers: %w", err)
	}
	defer func() {
		_ = watchers.Close()
		watchers.Runner.Wait()
	}()

	srv, err := islandhttp.NewServer(islandhttp.Services{
		Syncer:  reg.Syncer(),
		Router:  reg.Router(),
		Manager: reg.Manager(),
	}, logger, &islandhttp.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromSection(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}
