// Command catchup replays a history archive state against a bucket
// store, reconstructing the bucket list and ledger database to the
// described snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tazeemc/stellar-core/bucket"
	"github.com/tazeemc/stellar-core/catchup"
	"github.com/tazeemc/stellar-core/compressors"
	"github.com/tazeemc/stellar-core/config"
	"github.com/tazeemc/stellar-core/history"
	"github.com/tazeemc/stellar-core/ledger"
	"github.com/tazeemc/stellar-core/work"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (optional)")
	statePath := flag.String("state", "", "Path to the target archive state JSON file (required)")
	bucketDir := flag.String("bucket-dir", "", "Bucket store directory (overrides config)")
	logLevel := flag.String("log-level", "", "Logging level (debug, info, warn, error; overrides config)")
	flag.Parse()

	if *statePath == "" {
		fmt.Println("Usage: catchup -state <archive-state.json> [-config <config.yaml>] [-bucket-dir <dir>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *bucketDir != "" {
		cfg.Buckets.Dir = *bucketDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *statePath, logger); err != nil {
		logger.Error("Catch-up failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Printf("Invalid log level: %s. Defaulting to info.\n", cfg.Level)
		level = slog.LevelInfo
	}

	var output io.Writer = os.Stdout
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
	case "file":
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			slog.Error("Failed to open log file", "path", cfg.File, "error", err)
			os.Exit(1)
		}
		output = file
	case "none":
		output = io.Discard
	}
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	applyState, err := history.Load(statePath)
	if err != nil {
		return err
	}
	if err := applyState.Validate(cfg.Buckets.Levels); err != nil {
		return fmt.Errorf("archive state does not fit configured bucket list: %w", err)
	}

	compressor, err := compressors.ForName(cfg.Buckets.Compression)
	if err != nil {
		return err
	}
	store, err := bucket.OpenStore(cfg.Buckets.Dir, bucket.StoreOptions{
		Compressor:   compressor,
		VerifyOnOpen: cfg.Buckets.VerifyOnOpen,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open bucket store: %w", err)
	}
	defer store.Close()

	list, err := bucket.NewBucketList(cfg.Buckets.Levels)
	if err != nil {
		return err
	}
	db := ledger.NewMemDB()

	engine, err := catchup.NewApplyBucketsWork(list, db, store, nil, applyState, catchup.ApplyBucketsOptions{
		ChunkSize: cfg.Catchup.ChunkSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	runner := work.NewRunner(work.RunnerOptions{
		MaxAttempts: cfg.Catchup.MaxAttempts,
		NewBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = config.ParseDuration(cfg.Catchup.InitialInterval, 100*time.Millisecond, logger)
			bo.MaxInterval = config.ParseDuration(cfg.Catchup.MaxInterval, 5*time.Second, logger)
			return bo
		},
		Logger: logger,
	})

	logger.Info("Starting catch-up apply",
		"state", statePath, "ledger", applyState.CurrentLedger, "levels", cfg.Buckets.Levels)
	start := time.Now()
	if err := runner.Run(ctx, engine); err != nil {
		return err
	}

	metrics := engine.Metrics()
	logger.Info("Catch-up apply complete",
		"ledger", list.Head().CurrentLedger,
		"duration", time.Since(start).String(),
		"replacements", metrics.BucketApplySuccess.Value(),
		"live_entries", db.Len())
	return nil
}
