// Command keepers-worker consumes the indexing queue, writes documents into
// the document store, and broadcasts completion events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mattmiller85/keepers-server/internal/config"
	"github.com/mattmiller85/keepers-server/internal/logging"
	"github.com/mattmiller85/keepers-server/internal/queue"
	"github.com/mattmiller85/keepers-server/internal/store/redis"
	"github.com/mattmiller85/keepers-server/internal/transport"
	"github.com/mattmiller85/keepers-server/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "keepers-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("KEEPERS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	log.Info("starting indexing worker", logging.Fields{"config": cfg.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := transport.Build(ctx, &cfg, logging.NewWatermillAdapter(log))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer tr.Close()

	docStore, err := redis.NewStore(ctx, redis.Config{
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("connect document store: %w", err)
	}
	defer docStore.Close()

	if err := docStore.WaitForReady(ctx, 30*time.Second); err != nil {
		return err
	}

	w := worker.New(queue.New(tr, log), docStore, log, worker.Options{
		QueueName:           cfg.ReadyToIndexQueueName,
		IndexedExchangeName: cfg.DocumentIndexedExchangeName,
		FailedExchangeName:  cfg.DocumentIndexedFailedExchangeName,
	})
	if err := w.Run(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down", nil)
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return logging.NewSlogLogger(slog.New(handler))
}
