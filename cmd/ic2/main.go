// Command ic2 serves the image compression and mail task API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TTT3216/ic2/internal/api"
	"github.com/TTT3216/ic2/internal/catalog"
	"github.com/TTT3216/ic2/internal/config"
	"github.com/TTT3216/ic2/internal/engine"
	"github.com/TTT3216/ic2/internal/pool"
	"github.com/TTT3216/ic2/internal/store"
	"github.com/TTT3216/ic2/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const drainTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ic2: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until the server stops. Every
// resource is released through defers before it returns.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("ic2: starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"isolation", cfg.Isolation,
		"task_timeout", cfg.TaskTimeout.String(),
	)
	if !catalog.FromConfig(cfg).SMTP.Configured() {
		logger.Warn("smtp credentials not set, mail tasks will fail")
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts := []engine.Option{
		engine.WithJournal(db),
		engine.WithKinds(catalog.Kinds()...),
	}
	if cfg.SentryDSN != "" {
		reporter, err := telemetry.NewSentry(cfg.SentryDSN, version)
		if err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer reporter.Flush(2 * time.Second)
		opts = append(opts, engine.WithFaultReporter(reporter))
	}

	workers := pool.New(pool.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize}, newExecutor(cfg, logger), logger)

	reg := engine.NewRegistry(logger, nil)
	eng := engine.NewEngine(reg, workers, engine.Config{
		Timeout:       cfg.TaskTimeout,
		Retention:     cfg.Retention,
		SweepInterval: cfg.SweepInterval,
	}, logger, opts...)
	eng.Start()

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger, api.WithMaxUploadBytes(cfg.MaxUploadBytes()))
	runErr := srv.Run()

	eng.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := workers.Close(ctx); err != nil {
		logger.Warn("worker pool did not drain", "error", err)
	}
	eng.Wait()

	return runErr
}

// newExecutor picks child-process isolation when the worker binary can be
// found, falling back to running work in this process.
func newExecutor(cfg config.Config, logger *slog.Logger) pool.Executor {
	if cfg.Isolation == config.IsolationProcess {
		bin, err := exec.LookPath(cfg.WorkerBin)
		if err == nil {
			logger.Info("running work in isolated worker processes", "worker_bin", bin)
			return pool.NewSubprocess(pool.SubprocessConfig{Binary: bin}, logger)
		}
		logger.Warn("worker binary not found, running work in-process", "worker_bin", cfg.WorkerBin, "error", err)
	}

	wlog := logrus.New()
	wlog.SetOutput(os.Stderr)
	wlog.SetFormatter(&logrus.JSONFormatter{})
	wlog.SetLevel(logrusLevel(cfg.LogLevel))
	return pool.NewInProcess(catalog.New(catalog.FromConfig(cfg), wlog))
}

func logrusLevel(l slog.Level) logrus.Level {
	switch {
	case l <= slog.LevelDebug:
		return logrus.DebugLevel
	case l <= slog.LevelInfo:
		return logrus.InfoLevel
	case l <= slog.LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
