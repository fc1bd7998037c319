package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"varianthunter/internal/config"
	"varianthunter/internal/core"
	"varianthunter/internal/infra/persistence/memory"
	"varianthunter/internal/logging"
)

// app holds the process-wide wiring shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	docs      core.DocumentStore
	persister *core.Persister
	svc       *core.Service
	trace     *os.File
}

func openApp(ctx context.Context, configFile string) (*app, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	docs, err := core.OpenDocumentStore(ctx, cfg.Storage, logger.WithComponent("storage").Slog())
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	trace, err := openTraceFile(cfg.Logging.TraceFile)
	if err != nil {
		_ = docs.Close()
		_ = logger.Close()
		return nil, err
	}

	store := memory.NewStore(core.NewDefaultRulesEngine())
	persister := core.NewPersister(docs, store.ExportState, core.PersisterConfig{
		Debounce:     cfg.Persistence.Debounce(),
		MaxRetries:   cfg.Persistence.MaxRetries,
		RetryBackoff: cfg.Persistence.RetryBackoff(),
		Timeout:      cfg.Persistence.Timeout(),
	}, logger.WithComponent("persister"))
	opts := []core.Option{
		core.WithLogger(logger.WithComponent("session")),
		core.WithMetricsRecorder(core.NewPrometheusRecorder()),
		core.WithPersister(persister),
	}
	if trace != nil {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(trace)))
	}
	svc := core.NewService(store, opts...)
	a := &app{cfg: cfg, logger: logger, docs: docs, persister: persister, svc: svc, trace: trace}
	if _, err := svc.Restore(ctx, docs); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return a, nil
}

// Close writes any pending snapshot and releases the stores.
func (a *app) Close() error {
	var errs []error
	if err := a.persister.Close(); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := a.docs.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.trace != nil {
		if err := a.trace.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openTraceFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return f, nil
}
