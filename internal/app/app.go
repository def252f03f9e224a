package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/hubcache/internal/config"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver"
	"github.com/MrSnakeDoc/hubcache/internal/httpserver/deps"
	"github.com/MrSnakeDoc/hubcache/internal/index"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/lookup"
	"github.com/MrSnakeDoc/hubcache/internal/metrics"
	"github.com/MrSnakeDoc/hubcache/internal/redis"
	"github.com/MrSnakeDoc/hubcache/internal/refresh"
	"github.com/MrSnakeDoc/hubcache/internal/scheduler"
	"github.com/MrSnakeDoc/hubcache/internal/sources/file"
	"github.com/MrSnakeDoc/hubcache/internal/sources/hub"
	"github.com/MrSnakeDoc/hubcache/internal/store/sqlite"
	redisstore "github.com/MrSnakeDoc/hubcache/internal/store/redis"
	"github.com/MrSnakeDoc/hubcache/internal/utils"
	"github.com/MrSnakeDoc/hubcache/internal/version"
	"github.com/MrSnakeDoc/hubcache/internal/wrapper"
)

type App struct {
	cfg           *config.Config
	logger        logger.Logger
	server        *httpserver.Server
	store         *sqlite.Store
	cache         *index.ResultCache[*lookup.Result]
	redisClient   *goredis.Client
	autoRefresher *scheduler.AutoRefresher
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	ctx := context.Background()

	store, err := sqlite.Open(ctx, cfg.DBPath, loggerClient.Named("store"))
	if err != nil {
		return nil, err
	}

	cache, err := index.NewResultCache[*lookup.Result](cfg.CacheTTL, cfg.CacheCapacity)
	if err != nil {
		utils.CloseLogged(store, loggerClient, "sqlite store")
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	if n, err := store.Count(ctx); err == nil {
		m.SetRecords(int(n))
	}

	// Remote catalog: a local snapshot file replaces the hub when configured.
	var (
		source       refresh.Source
		sourceStatus deps.SourceStatus
		sourceName   string
	)
	if cfg.SnapshotFile != "" {
		source = file.NewLoader(cfg.SnapshotFile, loggerClient.Named("source"))
		sourceName = "file"
		loggerClient.Info("catalog source: snapshot file", logger.String("file", cfg.SnapshotFile))
	} else {
		client := hub.New(hub.Options{URL: cfg.HubURL, Timeout: cfg.HubTimeout}, loggerClient.Named("source"))
		source, sourceStatus = client, client
		sourceName = "hub"
		loggerClient.Info("catalog source: hub", logger.String("url", cfg.HubURL))
	}

	// Wrapper mode: typed results, seeded from what is already on disk.
	var (
		adapter  lookup.Adapter
		reloader refresh.Reloader
	)
	if cfg.ServiceWrapper {
		w := wrapper.New()
		if payloads, err := store.Payloads(ctx); err != nil {
			loggerClient.Warn("failed to seed service wrapper from store", logger.Error(err))
		} else if err := w.Reload(payloads); err != nil {
			loggerClient.Warn("service wrapper skipped invalid services", logger.Error(err))
		}
		adapter, reloader = w, w
		loggerClient.Info("service wrapper enabled", logger.Int("services", w.Len()))
	}

	// Optional redis mirror of the last committed snapshot.
	var (
		redisClient  *goredis.Client
		mirror       refresh.Mirror
		mirrorStatus deps.MirrorStatus
	)
	if cfg.MirrorEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		redisClient, err = redis.New(ctx, cfg.RedisOptions(), loggerClient.Named("redis"))
		if err != nil {
			loggerClient.Warn("redis unavailable, snapshot mirror disabled", logger.Error(err))
		} else {
			rm := redisstore.NewMirror(redisClient)
			mirror, mirrorStatus = rm, rm

			syncer := scheduler.NewMirrorSyncer(rm, store, reloader, cache, loggerClient.Named("mirror"))
			if seeded, err := syncer.Sync(ctx); err != nil {
				loggerClient.Warn("failed to warm up from redis mirror", logger.Error(err))
			} else if seeded {
				if n, err := store.Count(ctx); err == nil {
					m.SetRecords(int(n))
				}
			}
		}
	} else {
		loggerClient.Info("redis not configured, snapshot mirror disabled")
	}

	gate := refresh.NewGate(cfg.RefreshInterval, cfg.StaleRefreshAfter)
	pipeline := refresh.NewPipeline(gate, source, store, cache, loggerClient.Named("refresh"), refresh.Options{
		Reloader: reloader,
		Mirror:   mirror,
		Metrics:  m,
	})

	lookupService := lookup.NewService(store, pipeline, cache, loggerClient.Named("lookup"), lookup.Options{
		Adapter: adapter,
		Metrics: m,
	})

	// Create manual reload trigger channel
	reloadTrigger := make(chan struct{}, 1)

	interval := time.Duration(0)
	if cfg.AutoRefresh {
		interval = cfg.RefreshInterval
	}
	autoRefresher := scheduler.NewAutoRefresher(pipeline, loggerClient.Named("scheduler"), interval, reloadTrigger)

	d := deps.Deps{
		Logger:             loggerClient,
		StartTime:          time.Now(),
		Version:            version.Version,
		Commit:             version.Commit,
		BuildDate:          version.BuildDate,
		GoVersion:          version.GoVersion,
		TimeNow:            time.Now,
		AllowedHosts:       cfg.AllowedHosts,
		AllowedCIDRS:       cfg.AllowedCIDRS,
		TrustProxy:         cfg.TrustProxy,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Lookup:             lookupService,
		Refresh:            gate,
		Store:              store,
		StorePath:          store.Path(),
		Mirror:             mirrorStatus,
		Source:             sourceStatus,
		SourceName:         sourceName,
		ReloadTrigger:      reloadTrigger,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:           cfg,
		logger:        loggerClient,
		server:        server,
		store:         store,
		cache:         cache,
		redisClient:   redisClient,
		autoRefresher: autoRefresher,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting hubcache v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.autoRefresher.Start(ctx)
	if a.cfg.AutoRefresh {
		a.logger.Info("auto refresh started",
			logger.Duration("interval", a.cfg.RefreshInterval))
	} else {
		a.logger.Info("auto refresh disabled, refreshing on demand only")
		if a.cfg.ServiceWrapper {
			// The wrapper serves from memory, it needs one snapshot up front.
			a.autoRefresher.RunOnce(ctx, "wrapper startup")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.close()
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.close()
	a.logger.Info("✅ hubcache stopped cleanly")
	return nil
}

func (a *App) close() {
	a.autoRefresher.Stop()
	a.cache.Close()
	utils.CloseLogged(a.store, a.logger, "sqlite store")
	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, a.logger, "redis")
	}
	_ = a.logger.Sync()
}
