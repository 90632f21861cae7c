// Command keepersd runs the keepers gateway: the websocket endpoint, the
// message router, and the connection response ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattmiller85/keepers-server/internal/config"
	"github.com/mattmiller85/keepers-server/internal/gateway"
	"github.com/mattmiller85/keepers-server/internal/logging"
	"github.com/mattmiller85/keepers-server/internal/metrics"
	"github.com/mattmiller85/keepers-server/internal/queue"
	routerpkg "github.com/mattmiller85/keepers-server/internal/router"
	"github.com/mattmiller85/keepers-server/internal/store/redis"
	"github.com/mattmiller85/keepers-server/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "keepersd:", err)
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
	log.Info("starting gateway", logging.Fields{"config": cfg.String()})

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

	queuer := queue.New(tr, log)

	// The pending gauge reads through a pointer assigned below; collectors
	// must exist before the router so its hooks can be installed at
	// construction.
	var rt *routerpkg.Router
	collectors := metrics.New(prometheus.DefaultRegisterer, func() int {
		if rt == nil {
			return 0
		}
		return rt.PendingCount()
	})

	ledger := gateway.NewLedger(log, gateway.LedgerObserver{
		OnDelivered: collectors.ResponseDelivered,
		OnDropped:   collectors.ResponseDropped,
	})

	rt = routerpkg.New(queuer, docStore, log, routerpkg.Options{
		IndexQueueName:      cfg.ReadyToIndexQueueName,
		IndexedExchangeName: cfg.DocumentIndexedExchangeName,
		PendingTTL:          cfg.PendingTTL,
		Hooks:               collectors.RouterHooks().Merge(gateway.ResponseHook(ledger, log)),
	})
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	gw := gateway.New(rt, ledger, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", logging.Fields{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
