package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/app"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "the indexer consumes document events and needs kafka.enabled")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "shards", cfg.Indexer.Shards, "workers", cfg.Scheduler.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		slog.Error("failed to start", "error", err)
		stop()
		_ = a.Close()
		os.Exit(1)
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  a.Checker.LiveHandler(),
			"GET /health/ready": a.Checker.ReadyHandler(),
		})
	}

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentEvents,
		"group", cfg.Kafka.ConsumerGroup,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunConsumer(gctx) })
	g.Go(func() error { return a.RunWatchers(gctx) })
	if err := g.Wait(); err != nil {
		slog.Error("indexer error", "error", err)
	}
	stop()

	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownMetrics(shutdownCtx)
		cancel()
	}

	slog.Info("saving indexes before shutdown")
	if err := a.Close(); err != nil {
		slog.Error("final save failed", "error", err)
	}

	slog.Info("indexer service stopped")
}
