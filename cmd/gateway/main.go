package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/cmd/gateway/internal/handlers"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/config"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/db"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/health"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/streaming"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without export", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Activity registry seeded from the catalog
	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("Failed to load activity catalog", zap.Error(err))
	}
	reg := registry.NewFromCatalog(catalog, logger)
	for name, a := range reg.List() {
		metrics.SetParticipants(name, len(a.Participants))
	}
	reg.AddListener(func(c registry.Change) {
		metrics.SetParticipants(c.Activity, c.Participants)
	})

	streamMgr := streaming.NewManager(cfg.Stream.Capacity, logger)
	reg.AddListener(streamMgr.PublishChange)

	healthMgr := health.NewManager(logger)
	if err := healthMgr.RegisterChecker(health.NewRegistryHealthChecker(reg)); err != nil {
		logger.Fatal("Failed to register registry health check", zap.Error(err))
	}

	// Optional membership audit log
	var audit handlers.EventLister
	if cfg.Postgres.Enabled() {
		dbClient, err := db.NewClient(&db.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer dbClient.Close()

		if err := dbClient.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to create audit schema", zap.Error(err))
		}
		reg.AddListener(dbClient.RecordChange)
		audit = dbClient
		_ = healthMgr.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.GetDB(), logger))
	}

	// Optional idempotency cache
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			logger.Warn("Redis not reachable, idempotency keys will be ignored until it is", zap.Error(err))
		}
		_ = healthMgr.RegisterChecker(health.NewRedisHealthChecker(redisClient, logger))
	}

	// Catalog hot reload
	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		watcher, err := watchCatalog(ctx, cfg.Catalog, reg, logger)
		if err != nil {
			logger.Fatal("Failed to watch activity catalog", zap.Error(err))
		}
		defer watcher.Stop()
	}

	if err := healthMgr.Start(ctx); err != nil {
		logger.Warn("Failed to start background health checks", zap.Error(err))
	}
	defer healthMgr.Stop()

	handler := newRouter(routerDeps{
		registry:  reg,
		stream:    streamMgr,
		health:    healthMgr,
		redis:     redisClient,
		audit:     audit,
		staticDir: cfg.Server.StaticDir,
		logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event stream connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Gateway starting",
			zap.Int("port", cfg.Server.Port),
			zap.Int("activities", len(reg.Names())),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Gateway shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Millisecond)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}
	cancel()

	logger.Info("Gateway stopped")
}

// watchCatalog applies catalog file changes to the registry. Invalid files are
// rejected by the validator and the registry keeps its current contents.
func watchCatalog(ctx context.Context, cfg config.CatalogConfig, reg *registry.Registry, logger *zap.Logger) (*config.ConfigManager, error) {
	dir, file := filepath.Dir(cfg.Path), filepath.Base(cfg.Path)
	cm, err := config.NewConfigManager(dir, logger)
	if err != nil {
		return nil, err
	}

	cm.RegisterValidator(file, func(raw []byte, format config.ConfigFormat) error {
		_, err := config.ParseCatalog(raw, format)
		if err != nil {
			metrics.CatalogReloads.WithLabelValues("rejected").Inc()
		}
		return err
	})
	cm.RegisterHandler(file, func(ev config.ChangeEvent) error {
		if ev.Raw == nil {
			// removal keeps the activities already loaded
			return nil
		}
		cat, err := config.ParseCatalog(ev.Raw, ev.Format)
		if err != nil {
			return err
		}
		res := reg.Apply(cat)
		metrics.CatalogReloads.WithLabelValues("applied").Inc()
		logger.Info("Activity catalog applied",
			zap.String("action", ev.Action),
			zap.Strings("added", res.Added),
			zap.Strings("updated", res.Updated),
		)
		for _, name := range res.Added {
			if a, err := reg.Get(name); err == nil {
				metrics.SetParticipants(name, len(a.Participants))
			}
		}
		return nil
	})
	if cfg.PollInterval > 0 {
		cm.EnablePolling(time.Duration(cfg.PollInterval) * time.Millisecond)
	}
	if err := cm.Start(ctx); err != nil {
		_ = cm.Stop()
		return nil, err
	}
	return cm, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
