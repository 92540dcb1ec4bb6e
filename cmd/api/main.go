package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"radiology-workflow/internal/api"
	"radiology-workflow/internal/config"
	"radiology-workflow/internal/daemon"
	"radiology-workflow/internal/logging"
	"radiology-workflow/internal/metrics"
	"radiology-workflow/internal/notify"
	"radiology-workflow/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, exists, err := config.Load(os.Getenv("RADIOLOGY_WORKFLOW_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.API.Bind = ":" + port
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if exists {
		logger.Info("configuration loaded", "path", path)
	} else {
		logger.Info("no configuration file, using defaults", "path", path)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("radiology workflow daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	lock := flock.New(cfg.API.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another radiology workflow daemon is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release daemon lock", "error", err)
		}
	}()

	directory := notify.NewDirectory(nil)
	sender, err := buildSender(cfg, directory, logger)
	if err != nil {
		return err
	}
	engine := buildEngine(cfg, sender, directory, logger)

	if err := loadCatalog(ctx, cfg, engine, directory, logger); err != nil {
		return err
	}

	collector := metrics.New()
	sinks, err := buildSinks(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	d := daemon.New(engine, sinks.publisher, collector, cfg.SweepInterval(), logger)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		d.Run(ctx)
	}()

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(collector.Handler()),
		api.WithSweepStatus(d.Status),
	}
	if sinks.store != nil {
		opts = append(opts, api.WithEventLog(sinks.store))
	}
	srv := &http.Server{
		Handler:           api.New(engine, opts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.API.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	logger.Info("api server listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	logger.Info("radiology workflow daemon shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	<-sweeperDone
	return nil
}

// loadCatalog applies the configured catalog and, when enabled, keeps it in
// sync with the file.
func loadCatalog(ctx context.Context, cfg *config.Config, engine *workflow.Engine, directory *notify.Directory, logger *slog.Logger) error {
	if cfg.Catalog.Path == "" {
		logger.Warn("no catalog configured, starting with an empty roster")
		return nil
	}
	data, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := daemon.ApplyCatalog(engine, directory, data); err != nil {
		return err
	}
	logger.Info("catalog loaded",
		"path", cfg.Catalog.Path,
		"reviewers", len(data.Reviewers),
		"rules", len(data.Rules),
		"policies", len(data.Policies),
		"contacts", directory.Len(),
	)

	if !cfg.Catalog.Watch {
		return nil
	}
	watcher, err := config.NewCatalogWatcher(cfg.Catalog.Path, func(data *config.CatalogData) {
		if err := daemon.ApplyCatalog(engine, directory, data); err != nil {
			logger.Error("catalog apply failed", "error", err)
			return
		}
		logger.Info("catalog reloaded", "reviewers", len(data.Reviewers), "contacts", directory.Len())
	}, logger)
	if err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	go watcher.Run(ctx)
	return nil
}
