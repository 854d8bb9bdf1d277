package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"centime/internal/amqp"
	"centime/internal/config"
	applog "centime/internal/log"
	"centime/internal/services"
	"centime/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logCfg := applog.DefaultConfig()
	logCfg.Component = applog.ComponentWorker
	logger := applog.New(logCfg)
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

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

	materializer := services.NewMaterializer(repo, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring materializer configured",
		"interval", cfg.RecurringInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	// On-demand commands arrive over AMQP; the ticker covers the scheduled runs
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPCommandQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, running on schedule only", applog.FieldError, err)
		} else {
			defer amqpClient.Close()
			go func() {
				err := amqpClient.ConsumeProcessMonth(ctx, func(msg *amqp.ProcessMonthMessage) error {
					result, err := materializer.ProcessMonth(ctx, msg.UserID, msg.Month)
					if err != nil {
						return err
					}
					logger.Info("Processed materialization command",
						applog.FieldUserID, msg.UserID,
						applog.FieldMonth, msg.Month,
						"created", result.ProcessedCount,
						"errors", len(result.Errors))
					return nil
				})
				if err != nil && ctx.Err() == nil {
					logger.Error("Command consumption stopped", applog.FieldError, err)
				}
			}()
		}
	}

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	logger.Info("Running initial materialization pass...")
	processAllUsers(ctx, repo, materializer)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("Running scheduled materialization pass...")
				processAllUsers(ctx, repo, materializer)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	logger.Info("Recurring-worker shutdown complete")
}

// processAllUsers materializes the current month for every user that has
// active templates.
func processAllUsers(ctx context.Context, repo *storage.SQLiteRepository, materializer *services.Materializer) {
	users, err := repo.ListUsersWithActiveTemplates(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list users with active templates", applog.FieldError, err)
		return
	}

	now := time.Now()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")

	created := 0
	for _, user := range users {
		result, err := materializer.ProcessMonth(ctx, user, month)
		if err != nil {
			slog.ErrorContext(ctx, "Materialization failed", applog.FieldUserID, user, applog.FieldError, err)
			continue
		}
		created += result.ProcessedCount
		for _, msg := range result.Errors {
			slog.WarnContext(ctx, "Materialization warning", applog.FieldUserID, user, "detail", msg)
		}
	}

	slog.InfoContext(ctx, "Materialization pass complete",
		"users", len(users),
		applog.FieldMonth, month,
		"expenses_created", created)
}
