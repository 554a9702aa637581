package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/config"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/health"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/resilience"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/upload"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/upload/wsclient"
)

const shutdownTimeout = 15 * time.Second

// runServe opens the store, starts the upload syncer when enabled and serves
// /metrics, /healthz and /readyz until ctx is cancelled.
func runServe(ctx context.Context, args []string, _ io.Reader, _ io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg, path, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	log, level := newLogger(cfg.LogLevel)
	log.Info("nidus starting",
		"config", path,
		"store", cfg.Store.Driver,
		"sync", cfg.Sync.Enabled,
		"listen_addr", cfg.Telemetry.ListenAddr,
	)

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: buildVersion(),
		Attributes: []attribute.KeyValue{
			attribute.String("nidus.store.driver", string(cfg.Store.Driver)),
			attribute.Bool("nidus.sync.enabled", cfg.Sync.Enabled),
		},
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	checkers := []health.Checker{health.StoreChecker(store)}
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Sync.Enabled {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "upload",
			MaxFailures:  cfg.Sync.Breaker.MaxFailures,
			ResetTimeout: cfg.Sync.Breaker.ResetTimeout,
			Logger:       log,
		})
		checkers = append(checkers, health.BreakerChecker(breaker))

		up := wsclient.New(cfg.Sync.URL, uploaderOptions(cfg.Sync, log)...)
		defer up.Close()

		syncer := upload.NewSyncer(store, up,
			upload.WithBreaker(breaker),
			upload.WithConcurrency(cfg.Sync.Concurrency),
			upload.WithInterval(cfg.Sync.Interval),
			upload.WithLogger(log),
		)
		g.Go(func() error { return syncer.Run(ctx) })
	}

	watcher, err := config.NewWatcher(path, func(old, new *config.Config) {
		applyReload(log, level, config.Diff(old, new))
	}, config.WithLogger(log))
	if err != nil {
		return err
	}
	g.Go(func() error { return watcher.Run(ctx) })

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)
	srv := &http.Server{
		Addr:              cfg.Telemetry.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics(), log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("telemetry listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), shutdownTelemetry(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("goodbye")
	return nil
}

// buildVersion is the main module version stamped by the go tool, or "" for
// a development build.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

func uploaderOptions(cfg config.SyncConfig, log *slog.Logger) []wsclient.Option {
	opts := []wsclient.Option{wsclient.WithLogger(log)}
	if cfg.Token != "" {
		opts = append(opts, wsclient.WithHeader(http.Header{
			"Authorization": {"Bearer " + cfg.Token},
		}))
	}
	return opts
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(log *slog.Logger, level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ExtractionChanged {
		log.Info("extraction settings changed; they apply to the next recording")
	}
	if len(d.RestartRequired) > 0 {
		log.Warn("configuration changed in sections that need a restart", "sections", d.RestartRequired)
	}
}
