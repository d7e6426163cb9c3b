package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/config"
	"github.com/vbonduro/stockscan/internal/console"
	"github.com/vbonduro/stockscan/internal/keyboard"
	"github.com/vbonduro/stockscan/internal/logging"
	"github.com/vbonduro/stockscan/internal/loop"
	"github.com/vbonduro/stockscan/internal/metrics"
	"github.com/vbonduro/stockscan/internal/resolve"
	"github.com/vbonduro/stockscan/internal/station"
)

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		LogFile:     cfg.LogFile,
		Interactive: true,
		Component:   "station",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("station stopped", "error", err)
		fmt.Fprintln(os.Stderr, err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New("stockscan")
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, m, logger)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, logger, backend.WithMetrics(m))
	events := loop.New(64)
	hub := keyboard.NewHub(logger)

	st := station.New(station.Deps{
		Keys:       hub,
		Loop:       events,
		Resolver:   resolve.New(client, logger),
		Items:      client,
		References: client,
		Submitter:  client,
	}, station.Options{
		ContinuousScan: cfg.ContinuousScan,
		ErrorDisplay:   cfg.ScannerErrorDisplay,
		OnAdjusted:     console.AdjustedNotice(logger),
		Metrics:        m,
	}, logger)

	restore, err := keyboard.RawMode(os.Stdin)
	if err != nil {
		return err
	}
	defer func() {
		if err := restore(); err != nil {
			logger.Error("failed to restore terminal", "error", err)
		}
		fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	}()

	ui := console.New(os.Stdout, st, hub, cancel, logger)
	events.Post(func() { ui.Start() })

	go func() {
		err := keyboard.NewDecoder(os.Stdin).Run(func(k keyboard.Key) {
			events.Post(func() { ui.HandleKey(k) })
		})
		if err != nil {
			logger.Error("keyboard input failed", "error", err)
		}
		cancel()
	}()

	logger.Info("station started", "backend", cfg.BackendURL, "continuous_scan", cfg.ContinuousScan)
	if err := events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("station shut down")
	return nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
