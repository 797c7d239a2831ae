package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/usageledger/internal/api"
	v1 "github.com/flexprice/usageledger/internal/api/v1"
	"github.com/flexprice/usageledger/internal/clickhouse"
	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/postgres"
	"github.com/flexprice/usageledger/internal/pubsub"
	"github.com/flexprice/usageledger/internal/pubsub/kafka"
	"github.com/flexprice/usageledger/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/usageledger/internal/pubsub/router"
	chRepo "github.com/flexprice/usageledger/internal/repository/clickhouse"
	pgRepo "github.com/flexprice/usageledger/internal/repository/postgres"
	"github.com/flexprice/usageledger/internal/sentry"
	"github.com/flexprice/usageledger/internal/service"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			clock.NewReal,
			sentry.NewSentryService,
			provideEventStore,
			providePubSub,
			pubsubRouter.NewRouter,
			service.NewServiceParams,
			service.NewEventProcessingService,
			v1.NewEventsHandler,
			v1.NewHealthHandler,
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startProfiling,
			startServer,
		),
	)

	app.Run()
}

// provideEventStore opens the configured ledger store and ensures its schema.
func provideEventStore(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger, c clock.Clock) (postgres.IClient, events.Repository, error) {
	ctx := context.Background()

	switch cfg.EventStore.Type {
	case types.EventStoreTypeClickHouse:
		store, err := clickhouse.NewClickHouseStore(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if err := chRepo.Migrate(ctx, store); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		return store, chRepo.NewEventRepository(store, log, c), nil

	default:
		db, err := postgres.NewDB(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		client := postgres.NewClient(db, log)
		if err := pgRepo.Migrate(ctx, client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return client, pgRepo.NewEventRepository(client, log, c), nil
	}
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.EventProcessing.PubSub {
	case types.PubSubTypeMemory:
		ps = memory.NewPubSub(log)
	default:
		ps, err = kafka.NewPubSubFromConfig(cfg, log, cfg.EventProcessing.ConsumerGroup)
		if err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func provideHandlers(eventsHandler *v1.EventsHandler, health *v1.HealthHandler) api.Handlers {
	return api.Handlers{
		Events: eventsHandler,
		Health: health,
	}
}

func startProfiling(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Profiling.Enabled {
		return nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Profiling.AppName,
		ServerAddress:   cfg.Profiling.ServerAddress,
		Tags:            map[string]string{"mode": string(cfg.Deployment.Mode)},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return err
	}
	log.Infow("profiling enabled", "server_address", cfg.Profiling.ServerAddress)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}

// startServer runs the parts selected by the deployment mode: the HTTP API, the
// usage topic consumer, or both in local mode.
func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	log *logger.Logger,
	engine *gin.Engine,
	router *pubsubRouter.Router,
	eventService service.EventProcessingService,
	sentryService *sentry.Service,
) {
	mode := cfg.Deployment.Mode
	runAPI := mode == types.ModeLocal || mode == types.ModeAPI
	runConsumer := mode == types.ModeLocal || mode == types.ModeWorker

	log.Infow("starting usage ledger", "mode", mode, "event_store", cfg.EventStore.Type)

	// registered first so it runs last on shutdown
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sentryService.Flush(2 * time.Second)
			return log.Close()
		},
	})

	if runAPI {
		srv := &http.Server{
			Addr:    cfg.Server.Address,
			Handler: engine,
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					log.Infow("starting http server", "address", cfg.Server.Address)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Fatalf("http server failed: %v", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				log.Infow("shutting down http server")
				return srv.Shutdown(ctx)
			},
		})
	}

	if runConsumer {
		eventService.RegisterHandler(router, cfg)
		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := router.Run(runCtx); err != nil {
						log.Errorw("pubsub router stopped", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				return router.Close()
			},
		})
	}
}
