package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"docsink/internal/config"
	"docsink/internal/ingest"
	"docsink/internal/observability"
	"docsink/internal/persistence"
	"docsink/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("docsink: %v", err)
	}
}

func run() error {
	// Stop reading on SIGINT/SIGTERM; queued records are still finalized
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := config.GetEnvironment()
	loader := config.NewLoader(os.Getenv("DOCSINK_CONFIG_DIR"), env)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, level, err := observability.NewLogger(observability.LoggerConfig{
		Production: env == config.Production,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Failed to sync logger: %v", err)
		}
	}()

	logger.Info("Starting docsink",
		zap.String("environment", string(cfg.Environment)),
		zap.String("collection", cfg.Collection),
		zap.String("driver", cfg.Store.Driver),
		zap.Strings("config_sources", cfg.LoadedFrom),
	)

	if watcher, err := config.NewWatcher(loader, cfg, logger, 500*time.Millisecond); err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
		watcher.OnChange(func(next *config.Config) {
			lvl, err := observability.ParseLevel(next.Logging.Level)
			if err != nil {
				return
			}
			level.SetLevel(lvl)
			logger.Info("Log level updated", zap.String("level", lvl.String()))
		})
	}

	var metrics persistence.Metrics
	var collector *observability.Collector
	if cfg.Metrics.Enabled {
		collector = observability.NewCollector(cfg.Metrics.Namespace)
		metrics = collector
	}

	adapter, closeStore, err := store.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	p, err := newPersistence(cfg, adapter, logger, metrics)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newRouter(cfg.Metrics.Path, collector, p),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", zap.String("addr", srv.Addr), zap.String("path", cfg.Metrics.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	src, closeSource, err := openSource(cfg.Import.Source)
	if err != nil {
		return err
	}
	defer closeSource()

	res, err := ingest.NewImporter(p, logger).ImportReader(ctx, src, ingest.Options{
		PrintNum:   cfg.Persistence.PrintNum,
		ClearModel: cfg.Import.ClearModel,
		ClearQuery: cfg.Import.ClearQuery,
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted, queued records finalized", zap.Int("persisted", res.Persisted))
		return nil
	}
	return err
}

// openSource opens path, or stdin when path is empty or "-".
func openSource(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
