// Package app assembles the engine from configuration: scheduler, registry,
// participants, search engine, candidate cache, analytics, health checks and
// the optional Kafka and filesystem-watch inputs. The binaries under cmd/
// differ only in which of the Run methods they call.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/job"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/server"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/redis"
)

// App owns every long-lived component of one process.
type App struct {
	cfg *config.Config

	Metrics    *metrics.Metrics
	Scheduler  *job.Scheduler
	Registry   *registry.Registry
	Sources    *participant.Set
	Engine     *search.Engine
	Cache      *cache.CandidateCache
	Aggregator *analytics.Aggregator
	Checker    *health.Checker

	db        *postgres.Client
	redis     *pkgredis.Client
	collector *analytics.Collector
	producers []*kafka.Producer
	snapshots *analytics.Store
	fsCorpora map[string]*participant.FSCorpus
	started   bool

	logger *slog.Logger
}

// New builds the components described by cfg. External services that are
// enabled must be reachable, except Redis: without it searches run
// uncached.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg:        cfg,
		Checker:    health.NewChecker(),
		Aggregator: analytics.NewAggregator(),
		fsCorpora:  make(map[string]*participant.FSCorpus),
		logger:     slog.Default().With("component", "app"),
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(nil)
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.db = db
		a.Checker.Register("postgres", health.Ping(db.Ping))
		a.snapshots = analytics.NewStore(db)
		if err := a.snapshots.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("preparing analytics schema: %w", err)
		}
		if snap, err := a.snapshots.Latest(ctx); err != nil {
			a.logger.Warn("analytics snapshot not restored", "error", err)
		} else if snap != nil {
			a.Aggregator.Restore(snap.Stats)
		}
	}

	tracker := a.tracker()

	a.Scheduler = job.NewScheduler(cfg.Scheduler.Workers, job.WithMetrics(a.Metrics))
	a.Registry = registry.New(a.Scheduler,
		registry.WithMetrics(a.Metrics),
		registry.WithTracker(tracker),
	)

	sources, err := a.buildSources(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Sources = sources

	engineOpts := []search.Option{
		search.WithMetrics(a.Metrics),
		search.WithTracker(tracker),
		search.WithTracing(cfg.Tracing.Enabled),
	}
	if cfg.Search.CacheEnabled {
		if c := a.connectCache(ctx); c != nil {
			a.Cache = c
			engineOpts = append(engineOpts, search.WithCache(c))
		}
	}
	a.Engine = search.NewEngine(a.Registry, a.Scheduler, engineOpts...)

	a.Checker.Register("scheduler", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d pending, %d running", a.Scheduler.Pending(), a.Scheduler.Running()),
		}
	})
	a.Checker.Register("indexes", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d open", len(a.Registry.Locations())),
		}
	})
	return a, nil
}

// tracker feeds the in-process aggregator directly, or publishes to Kafka
// when it is enabled. In the Kafka case the aggregator is fed from the topic
// by RunAnalytics, so events of every process are counted once.
func (a *App) tracker() analytics.Tracker {
	if !a.cfg.Kafka.Enabled {
		return a.Aggregator
	}
	producer := kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.SearchEvents)
	a.producers = append(a.producers, producer)
	a.collector = analytics.NewCollector(producer, a.cfg.Analytics.BatchSize, a.cfg.Analytics.FlushInterval)
	return a.collector
}

func (a *App) buildSources(ctx context.Context) (*participant.Set, error) {
	var sources []*participant.Source
	for _, pc := range a.cfg.Participants {
		var corpus participant.Corpus
		switch pc.Kind {
		case "fs":
			fc := participant.NewFSCorpus(pc.Root, pc.Extensions...)
			a.fsCorpora[pc.Name] = fc
			corpus = fc
		case "postgres":
			pg := participant.NewPGCorpus(a.db, pc.Name)
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("preparing documents schema: %w", err)
			}
			corpus = pg
		case "memory":
			corpus = participant.NewMemCorpus()
		default:
			return nil, fmt.Errorf("participant %q: unknown kind %q", pc.Name, pc.Kind)
		}
		src, err := participant.NewSource(pc.Name, corpus, a.cfg.Indexer.DataDir, participant.Options{
			Shards:    a.cfg.Indexer.Shards,
			CacheSize: pc.CacheSize,
			Words:     pc.Words,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		a.logger.Info("participant configured", "participant", pc.Name, "kind", pc.Kind, "shards", a.cfg.Indexer.Shards)
	}
	return participant.NewSet(sources...)
}

func (a *App) connectCache(ctx context.Context) *cache.CandidateCache {
	client, err := pkgredis.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		a.logger.Warn("redis unavailable, candidate caching disabled", "error", err)
		return nil
	}
	a.redis = client
	a.Checker.RegisterOptional("redis", health.Ping(client.Ping))
	a.logger.Info("candidate cache enabled", "addr", a.cfg.Redis.Addr, "ttl", a.cfg.Redis.CacheTTL)
	return cache.New(client, a.cfg.Redis.CacheTTL, cache.WithMetrics(a.Metrics))
}

// Start launches the worker pool and the background loops tied to ctx:
// periodic index saves, analytics publishing and snapshots. With
// indexer.reindexOnStart every participant is re-indexed.
func (a *App) Start(ctx context.Context) error {
	a.started = true
	a.Scheduler.Start(ctx)
	a.Registry.StartSaveLoop(ctx, a.cfg.Indexer.SaveInterval)
	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.snapshots != nil && a.cfg.Analytics.SnapshotInterval > 0 {
		a.snapshots.StartPeriodicSave(ctx, a.Aggregator, a.cfg.Analytics.SnapshotInterval)
	}
	if !a.cfg.Indexer.ReindexOnStart {
		return nil
	}
	for _, src := range a.Sources.All() {
		if _, err := src.Reindex(ctx, a.Registry, ""); err != nil {
			return fmt.Errorf("reindexing %s: %w", src.Name(), err)
		}
	}
	return nil
}

// Server builds the HTTP API over the app's components. A configured rate
// limit starts a cleanup loop tied to ctx.
func (a *App) Server(ctx context.Context) *server.Server {
	opts := []server.Option{
		server.WithAggregator(a.Aggregator),
		server.WithChecker(a.Checker),
		server.WithMetrics(a.Metrics),
		server.WithAPIKeys(a.cfg.Server.APIKeys),
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		server.WithLimits(a.cfg.Search.MaxMatches, a.cfg.Search.Timeout),
	}
	if a.Cache != nil {
		opts = append(opts, server.WithCache(a.Cache))
	}
	if a.snapshots != nil {
		opts = append(opts, server.WithHistory(a.snapshots))
	}
	if a.cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(a.cfg.Server.RateLimit, time.Minute)
		go limiter.RunCleanup(ctx)
		opts = append(opts, server.WithRateLimiter(limiter))
	}
	return server.New(a.Engine, a.Sources, a.Registry, a.Scheduler, opts...)
}

// RunWatchers watches every filesystem participant configured with watch
// until ctx is done.
func (a *App) RunWatchers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, pc := range a.cfg.Participants {
		corpus, ok := a.fsCorpora[pc.Name]
		if !ok || !pc.Watch {
			continue
		}
		src, err := a.Sources.Get(pc.Name)
		if err != nil {
			return err
		}
		w, err := watcher.ForSource(src, corpus, a.Registry, watcher.DefaultDebounce)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// RunConsumer applies document events from Kafka until ctx is done. It
// returns immediately when Kafka is disabled.
func (a *App) RunConsumer(ctx context.Context) error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}
	applier := consumer.NewApplier(a.Sources, a.Registry, a.Scheduler)
	c := kafka.NewConsumer(a.cfg.Kafka, a.cfg.Kafka.Topics.DocumentEvents, consumer.HandleMessage(applier))
	a.logger.Info("consuming document events",
		"topic", a.cfg.Kafka.Topics.DocumentEvents,
		"group", a.cfg.Kafka.ConsumerGroup,
	)
	return c.Start(ctx)
}

// RunAnalytics feeds the aggregator from the search-events topic. It returns
// immediately when Kafka is disabled, since events then reach the aggregator
// directly.
func (a *App) RunAnalytics(ctx context.Context) error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}
	cfg := a.cfg.Kafka
	cfg.ConsumerGroup += "-analytics"
	c := kafka.NewConsumer(cfg, cfg.Topics.SearchEvents, analytics.HandleEvent(a.Aggregator))
	return c.Start(ctx)
}

// Close stops the scheduler, saves dirty indexes and releases external
// connections. Cancel the context given to Start first: Close waits for the
// analytics publisher to drain.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Stop())
	}
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.collector != nil && a.started {
		a.collector.Close()
	}
	for _, p := range a.producers {
		errs = append(errs, p.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
