package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"patungan/internal/config"
	"patungan/internal/log"
	"patungan/internal/notify"
	"patungan/internal/storage"
	"patungan/internal/telegram"
	"patungan/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.Setup(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting notify-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// Unlike the API, the worker is useless without the bus.
	client, err := notify.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Telegram push is optional
	var pusher worker.Pusher
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Error("Failed to initialize Telegram client", "error", err)
			os.Exit(1)
		}
		pusher = tg
		logger.Info("Telegram push enabled", "chat_id", cfg.TelegramChatID)
	} else {
		logger.Info("Telegram push disabled - no TELEGRAM_BOT_TOKEN provided")
	}

	w := worker.New(store, client, pusher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Consume(ctx, func(msg *notify.Message) error {
			return w.HandleMessage(ctx, msg)
		})
	})
	g.Go(func() error {
		return w.RunReminderLoop(ctx, cfg.ReminderInterval)
	})

	logger.Info("Worker running",
		"queue", cfg.AMQPQueue, "reminder_interval", cfg.ReminderInterval.String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
