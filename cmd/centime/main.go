package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"centime/internal/amqp"
	"centime/internal/config"
	apphttp "centime/internal/http"
	applog "centime/internal/log"
	"centime/internal/services"
	"centime/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional: without it mutations still land in the outbox and
	// drain once a broker is configured
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPCommandQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without broker", applog.FieldError, err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
		}
	}

	recurring := services.NewRecurringService(repo, cfg.UpcomingHorizonDays)
	expenses := services.NewExpenseService(repo)
	advisor := services.NewBudgetAdvisor(repo)

	outboxCfg := services.DefaultOutboxProcessorConfig()
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	outboxCfg.BatchSize = cfg.OutboxBatchSize
	outboxCfg.MaxRetries = cfg.OutboxMaxRetries
	outbox := services.NewOutboxProcessor(repo, amqpClient, outboxCfg)

	srv := apphttp.NewServer(":"+cfg.Port, repo, recurring, expenses, advisor, outbox)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting centime server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if amqpClient != nil {
		g.Go(func() error {
			return outbox.Start(gctx)
		})
	} else {
		logger.Info("AMQP disabled, outbox processor not started")
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if amqpClient != nil {
			if err := outbox.Stop(shutdownCtx); err != nil {
				logger.Error("Outbox processor shutdown error", applog.FieldError, err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
