package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/config"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentProcessor,
	})
	applog.SetDefault(logger)

	logger.Info("Starting schedule-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	sqliteRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer sqliteRepo.Close()

	// Initialize AMQP client so the ledger-worker hears about new instances
	var publisher services.InstancePublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized - instances will mirror via ledger-worker")
		}
	} else {
		logger.Info("AMQP disabled - instances will not be mirrored")
	}

	clock := recurrence.SystemClock{}
	seriesService := services.NewSeriesService(sqliteRepo, publisher, clock)
	processor := services.NewProcessor(seriesService, sqliteRepo, services.ProcessorConfig{
		CatchUpLimit: cfg.CatchUpLimit,
		Concurrency:  cfg.Concurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Schedule processor configured",
		"interval", cfg.ProcessInterval,
		"catch_up_limit", cfg.CatchUpLimit,
		"concurrency", cfg.Concurrency,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.ProcessInterval)
	defer ticker.Stop()

	// Run an initial sweep on startup so a long-stopped worker catches up
	// immediately instead of waiting a full interval.
	logger.Info("Running initial due-series sweep...")
	if count, err := processor.ProcessDue(ctx, clock.Now()); err != nil {
		logger.Error("Initial sweep failed", "error", err)
	} else {
		logger.Info("Initial sweep complete", "instances_created", count)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				logger.Info("Processing due series...")
				count, err := processor.ProcessDue(ctx, now)
				if err != nil {
					logger.Error("Periodic sweep failed", "error", err)
				} else {
					logger.Info("Periodic sweep complete",
						"instances_created", count,
						"next_check", now.Add(cfg.ProcessInterval).Format("15:04:05"))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	logger.Info("Schedule-worker shutdown complete")
}
