package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncmarks/syncmarks/internal/config"
	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/httpserver"
	"github.com/syncmarks/syncmarks/internal/httpserver/deps"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/normalize"
	"github.com/syncmarks/syncmarks/internal/redis"
	"github.com/syncmarks/syncmarks/internal/registry"
	"github.com/syncmarks/syncmarks/internal/scheduler"
	redisstore "github.com/syncmarks/syncmarks/internal/store/redis"
	"github.com/syncmarks/syncmarks/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	retention   *scheduler.RetentionSweeper
	liveness    *scheduler.LivenessSweeper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)

	// URL normalizer, optionally extended with operator-supplied
	// tracking-parameter patterns.
	norm := normalize.New()
	if cfg.TrackingParamsFile != "" {
		extra, err := normalize.LoadPatterns(cfg.TrackingParamsFile)
		if err != nil {
			loggerClient.Errorf("Failed to load tracking params file %s: %v", cfg.TrackingParamsFile, err)
			os.Exit(1)
		}
		norm = normalize.NewWithPatterns(extra)
		loggerClient.Info("extra tracking-parameter patterns loaded",
			logger.String("file", cfg.TrackingParamsFile))
	}

	engine := merge.NewEngine(store, loggerClient)
	reg := registry.NewRegistry()
	dispatcher := fanout.NewDispatcher(reg, loggerClient, cfg.SessionBuffer)
	engine.SetPublisher(dispatcher)

	retention := scheduler.NewRetentionSweeper(engine, reg, loggerClient, cfg.SweepInterval, cfg.RetentionWindow)
	liveness := scheduler.NewLivenessSweeper(reg, dispatcher, loggerClient, cfg.HeartbeatInterval)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:            loggerClient,
		StartTime:         time.Now(),
		Version:           version.Version,
		Commit:            version.Commit,
		BuildDate:         version.BuildDate,
		GoVersion:         version.GoVersion,
		TimeNow:           time.Now,
		AllowedOrigins:    cfg.AllowedOrigins,
		RedisClient:       redisClient,
		Engine:            engine,
		Registry:          reg,
		Dispatcher:        dispatcher,
		Normalizer:        norm,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		retention:   retention,
		liveness:    liveness,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Syncmarks v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Syncmarks %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.retention.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}
	a.logger.Info("retention sweeper started",
		logger.Duration("interval", a.cfg.SweepInterval),
		logger.Duration("window", a.cfg.RetentionWindow))

	if err := a.liveness.Start(ctx); err != nil {
		return fmt.Errorf("failed to start liveness sweeper: %w", err)
	}
	a.logger.Info("liveness sweeper started",
		logger.Duration("heartbeat_interval", a.cfg.HeartbeatInterval))

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
		return err
	}

	a.retention.Stop()
	a.liveness.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Syncmarks stopped cleanly")
	return nil
}
