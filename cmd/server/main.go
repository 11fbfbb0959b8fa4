// Package main provides the API server entry point for the campaign runner.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/api"
	"github.com/campaign-runner/internal/cancel"
	"github.com/campaign-runner/internal/catalog"
	"github.com/campaign-runner/internal/checkpoint"
	"github.com/campaign-runner/internal/config"
	"github.com/campaign-runner/internal/job"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/profile"
	"github.com/campaign-runner/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer logger.Sync()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := os.MkdirAll(cfg.State.DataDir, 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	// State stores: Redis when enabled, always mirrored to local files
	var durableStates, durableActive storage.StateStore
	if cfg.State.RedisEnabled {
		client := storage.NewRedisClient(&cfg.Database.Redis)
		defer client.Close()

		states := storage.NewRedisStateStore(client, cfg.State.KeyPrefix+":job_state:", cfg.State.TTL)
		if err := states.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup, using local state files until it recovers")
		}
		durableStates = states
		durableActive = storage.NewRedisStateStore(client, cfg.State.KeyPrefix+":active_jobs:", 0)
	} else {
		logger.Info("Redis state backend disabled, using local state files only")
	}
	stateStore := storage.NewFallbackStore("job_states", durableStates, storage.NewFileStateStore(cfg.State.JobStatesFile()))
	activeStore := storage.NewFallbackStore("active_jobs", durableActive, storage.NewFileStateStore(cfg.State.ActiveJobsFile()))
	recorder := checkpoint.NewRecorder(stateStore, activeStore)

	// History: file by default, Postgres when configured
	var history storage.HistoryStore
	switch cfg.History.Backend {
	case "postgres":
		pg := &cfg.Database.Postgres
		if pg.AutoMigrate {
			if err := storage.RunMigrations(pg.URL(), pg.MigrationsPath); err != nil {
				logger.WithError(err).Fatal("Failed to run Postgres migrations")
			}
		}
		db, err := storage.NewPostgresDB(ctx, pg)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer db.Close()
		history = storage.NewHistoryRepository(db)
		logger.Info("Using Postgres history backend")
	default:
		history = storage.NewFileHistory(cfg.History.FilePath, cfg.History.MaxEntries)
		logger.WithField("path", cfg.History.FilePath).Info("Using file history backend")
	}

	services, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load service catalog")
	}
	profiles := profile.NewStore(cfg.Profiles.Path)
	orders := adapter.NewSMMClient(cfg.Providers)
	logger.WithField("providers", orders.Providers()).Info("Order providers configured")

	dispatcher := job.NewDispatcher(job.DispatcherDeps{
		Deps: job.Deps{
			Checkpoints: recorder,
			Registry:    cancel.NewRegistry(),
			Orders:      orders,
			Services:    services,
			History:     history,
		},
		Snapshots: recorder,
		Profiles:  profiles,
	}, job.DispatcherOptions{
		MaxConcurrentJobs: cfg.Executor.MaxConcurrentJobs,
		PollInterval:      cfg.Executor.PollInterval,
		Executor: job.ExecutorOptions{
			MaxMessages: cfg.Executor.MaxMessages,
			Sleeper:     job.NewTickerSleeper(cfg.Executor.DelayTick, cfg.Executor.CheckpointInterval),
		},
	})

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}
	server := api.NewServer(serverConfig, api.Dependencies{
		Scheduler: dispatcher,
		History:   history,
		Orders:    orders,
		Services:  services,
		Profiles:  profiles,
		Health: func() map[string]interface{} {
			return map[string]interface{}{
				"state_store":  stateStore.DurableState(),
				"active_store": activeStore.DurableState(),
				"providers":    orders.BreakerStates(),
				"queued_jobs":  dispatcher.QueueLen(),
				"active_jobs":  len(dispatcher.ListActiveJobs()),
				"platforms":    services.Platforms(),
			}
		},
	})

	if err := dispatcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start dispatcher")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(services, 500*time.Millisecond)
		if err != nil {
			logger.WithError(err).Warn("Catalog hot reload disabled")
		} else {
			g.Go(func() error {
				watcher.Run(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancelShutdown()
		err := server.Shutdown(shutdownCtx)

		// running jobs checkpoint and stay in the snapshot for the next start
		dispatcher.Stop()
		return err
	})

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	logger.Info("Server exited")
}
