// Command fa-rss serves RSS feeds for FurAffinity galleries, ingesting
// submissions through the FAExport API.
//
// Commands:
//
//	fa-rss serve   run the HTTP server and the data watcher (default)
//	fa-rss watch   run only the data watcher, with /metrics and /healthz
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"fa-rss/faexport"
	"fa-rss/fetcher"
	"fa-rss/metrics"
	"fa-rss/server"
	"fa-rss/store"
)

const version = "1.0.0"

func main() {
	var configPath, port string
	var debug bool
	pflag.StringVarP(&configPath, "config", "c", "config.json", "path to the config file")
	pflag.StringVar(&port, "port", "", "override the configured listen port")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	command := "serve"
	if pflag.NArg() > 0 {
		command = pflag.Arg(0)
	}
	if command != "serve" && command != "watch" {
		fmt.Fprintf(os.Stderr, "unrecognised command %q (want serve or watch)\n", command)
		os.Exit(2)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if port != "" {
		cfg.Server.Port = port
	}

	if err := run(command, cfg, logger); err != nil && err != context.Canceled {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(command string, cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("Failed to close database", "error", closeErr)
		}
	}()

	settings := store.NewSettings(st)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// The watcher gets its own client with a hard request interval; feed
	// requests use an unspaced client so interactive traffic is not queued
	// behind the bulk ingestion.
	watcherAPI := faexport.New(faexport.Config{
		BaseURL:            cfg.FAExport.URL,
		RequestInterval:    seconds(cfg.FAExport.WatcherIntervalSeconds),
		SlowdownInterval:   seconds(cfg.FAExport.SlowdownIntervalSeconds),
		StatusCheckBackoff: seconds(cfg.FAExport.StatusCheckBackoffSeconds),
		RegisteredLimit:    cfg.FAExport.RegisteredLimit,
		IgnoreSlowdown:     cfg.FAExport.IgnoreSlowdown,
		MaxAttempts:        cfg.FAExport.MaxAttempts,
		Logger:             logger.With("component", "faexport-watcher"),
	})

	watcher := fetcher.NewWatcher(watcherAPI, st, settings, m, logger.With("component", "watcher"))
	watcher.PollInterval = seconds(cfg.Watcher.PollIntervalSeconds)
	watcher.ChallengeBackoff = seconds(cfg.Watcher.ChallengeBackoffSeconds)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })

	switch command {
	case "watch":
		// Watcher-only process still exposes health and metrics.
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metricsHandler)
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"healthy"}`)
		})
		g.Go(func() error {
			return serveHTTP(gctx, ":"+cfg.Server.Port, mux, logger)
		})
	case "serve":
		serveAPI := faexport.New(faexport.Config{
			BaseURL:            cfg.FAExport.URL,
			SlowdownInterval:   seconds(cfg.FAExport.SlowdownIntervalSeconds),
			StatusCheckBackoff: seconds(cfg.FAExport.StatusCheckBackoffSeconds),
			RegisteredLimit:    cfg.FAExport.RegisteredLimit,
			IgnoreSlowdown:     cfg.FAExport.IgnoreSlowdown,
			MaxAttempts:        cfg.FAExport.MaxAttempts,
			Logger:             logger.With("component", "faexport"),
		})
		f := fetcher.New(serveAPI, st, m, logger.With("component", "fetcher"))
		f.InitTimeout = minutes(cfg.Backfill.TimeoutMinutes)
		f.FetchLimit = cfg.Backfill.FetchConcurrency

		srv := server.New(&server.Config{
			Fetcher:  f,
			API:      serveAPI,
			Store:    st,
			Settings: settings,
			Metrics:  m,
			Logger:   logger.With("component", "server"),
			Version:  version,
		})
		g.Go(func() error {
			return srv.Serve(gctx, ":"+cfg.Server.Port, metricsHandler)
		})
	}

	return g.Wait()
}

// serveHTTP runs a plain HTTP server until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
