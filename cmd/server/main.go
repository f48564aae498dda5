// Command server exposes the trade warehouse ETL and its reports over HTTP.
//
// Configuration layers as defaults < config file < environment < flags; a
// .env file in the working directory is loaded first. SIGINT and SIGTERM
// drain in-flight requests before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"tradeetl/internal/config"
	"tradeetl/internal/httpapi"
	"tradeetl/internal/metrics"
	"tradeetl/internal/metrics/datadog"
	"tradeetl/internal/metrics/prom"
	"tradeetl/internal/multitable"
	"tradeetl/internal/storage"
	"tradeetl/internal/workerpool"

	_ "tradeetl/internal/storage/all"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, os.Args[1:], os.Getenv, os.Stderr, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// serve runs the HTTP server until ctx is done. onListen, when set, receives
// the bound address once the listener is up.
func serve(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer, onListen func(net.Addr)) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	config.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.FromFlags(fs, getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.Errors(issues); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(tint.NewHandler(stderr, &tint.Options{Level: level, TimeFormat: time.DateTime}))

	opts, mode, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	opts.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelInfo)

	metricsHandler, closeMetrics, err := serverMetrics(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := closeMetrics(); err != nil {
			logger.Warn("metrics: close error", "err", err)
		}
	}()

	repo, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()
	if err := repo.EnsureTables(ctx); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	pc, err := cfg.PoolConfig()
	if err != nil {
		return err
	}
	pool, err := workerpool.New(pc)
	if err != nil {
		return err
	}
	defer pool.Close()

	handler := httpapi.New(multitable.New(repo, pool, opts), repo, httpapi.Options{
		Logger:      logger,
		DefaultMode: mode,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     metricsHandler,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.D(),
		ReadTimeout:       cfg.Server.ReadTimeout.D(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tradeetl listening", "addr", ln.Addr().String(), "storage", cfg.Storage.Kind)
		errCh <- srv.Serve(ln)
	}()
	if onListen != nil {
		onListen(ln.Addr())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.D())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// serverMetrics installs the configured backend and returns the /metrics
// handler (nil unless prometheus) and a close func that is never nil.
func serverMetrics(ctx context.Context, cfg config.Metrics) (http.Handler, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", "none":
		return nil, noop, nil
	case "prometheus":
		b, err := prom.New(prom.Options{ProcessMetrics: true})
		if err != nil {
			return nil, noop, err
		}
		metrics.SetBackend(b)
		return b.Handler(), noop, nil
	case "datadog":
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			Tags:       cfg.DatadogTags,
			FlushEvery: cfg.FlushEvery.D(),
		})
		if err != nil {
			return nil, noop, err
		}
		metrics.SetBackend(b)
		return nil, b.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}
