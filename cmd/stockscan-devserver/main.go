package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vbonduro/stockscan/internal/config"
	"github.com/vbonduro/stockscan/internal/db"
	"github.com/vbonduro/stockscan/internal/logging"
	"github.com/vbonduro/stockscan/internal/service"
	"github.com/vbonduro/stockscan/internal/store"
	"github.com/vbonduro/stockscan/internal/web"
)

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(logging.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile, Component: "devserver"})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	svc := service.NewInventoryService(
		store.NewItemStore(database),
		store.NewReferenceStore(database),
		store.NewMovementStore(database),
		logger,
	)

	if cfg.SeedFile != "" {
		if err := seed(ctx, svc, cfg.SeedFile); err != nil {
			logger.Error("failed to seed database", "file", cfg.SeedFile, "error", err)
			return
		}
	}

	server := web.NewServer(svc, logger)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
}

func seed(ctx context.Context, svc *service.InventoryService, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := service.LoadSeed(f)
	if err != nil {
		return err
	}
	return svc.Seed(ctx, data)
}
