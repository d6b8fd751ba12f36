package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskportal/contracts/mq"
	"taskportal/internal/bootstrap"
	"taskportal/internal/handler"
	"taskportal/internal/httpserver"
	"taskportal/internal/model"
	"taskportal/internal/mqhandler"
	"taskportal/internal/service/dedup"
	"taskportal/internal/service/lifecycle"
	"taskportal/internal/service/tables"
	"taskportal/pkg/circuitbreaker"
	"taskportal/pkg/config"
	"taskportal/pkg/logger"
	pkgmq "taskportal/pkg/mq"
	"taskportal/pkg/util"
)

const serviceName = "shard-service"

func main() {
	cfg, err := config.Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		logger.NewLogger().Fatal("Failed to load config", zap.Error(err))
	}
	log := logger.New(cfg.Log)
	defer log.Sync()

	log.Info("Starting shard service...", zap.String("lock_backend", cfg.Lock.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB / Redis / lock
	deps, err := bootstrap.Open(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("Dependency initialization failed", zap.Error(err))
	}
	defer deps.Close()
	log.Info("DB ready")

	maintenanceDefaults, err := bootstrap.MaintenanceDefaults(cfg.Maintenance)
	if err != nil {
		log.Fatal("Invalid maintenance config", zap.Error(err))
	}

	// services
	tablesSvc := tables.NewService(deps.Store, deps.Locker, cfg.Shard.Roles, log)
	maintenance := dedup.NewMaintenance(deps.Store, log)
	lifecycleSvc := lifecycle.NewService(tablesSvc, deps.Store, cfg.Shard.RetryMaxElapsed, log)

	// MQ
	publisher, err := pkgmq.NewPublisher(cfg.MQ.URL, serviceName)
	if err != nil {
		log.Fatal("MQ publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	deduper := util.NewDeduper(deps.Redis, 24*time.Hour, log)
	retryCounter := util.NewRetryCounter(deps.Redis, time.Hour)
	eventHandler := mqhandler.NewProjectEventHandler(lifecycleSvc, deduper, retryCounter, publisher, log)
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.IsFailure = func(err error) bool { return errors.Is(err, model.ErrStoreUnavailable) }
	eventHandler.UseBreaker(circuitbreaker.NewCircuitBreaker(breakerCfg))

	routes := []struct {
		queue      string
		routingKey string
		handle     pkgmq.MessageHandler
	}{
		{"shard.project.created.q", mq.RoutingProjectCreated, eventHandler.HandleProjectCreated},
		{"shard.project.tasks_assigned.q", mq.RoutingProjectTasksAssigned, eventHandler.HandleTasksAssigned},
		{"shard.project.deleted.q", mq.RoutingProjectDeleted, eventHandler.HandleProjectDeleted},
	}

	consumers := make([]*pkgmq.Consumer, 0, len(routes))
	for _, rt := range routes {
		log.Info("Init consumer", zap.String("queue", rt.queue))
		c, err := pkgmq.NewConsumer(cfg.MQ.URL, rt.queue, rt.routingKey, 10, log)
		if err != nil {
			log.Fatal("Consumer init failed", zap.String("queue", rt.queue), zap.Error(err))
		}
		c.SetHandler(rt.handle)
		consumers = append(consumers, c)
		defer c.Close()

		go func(c *pkgmq.Consumer, queue string) {
			if err := c.Start(ctx); err != nil {
				log.Error("Consumer stopped", zap.String("queue", queue), zap.Error(err))
				stop()
			}
		}(c, rt.queue)
	}

	// HTTP
	checks := []httpserver.Check{
		{Name: "db", Probe: deps.Store.Ping},
		{Name: "mq", Probe: func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher disconnected")
			}
			for _, c := range consumers {
				if !c.IsConnected() {
					return errors.New("consumer " + c.RoutingKey() + " disconnected")
				}
			}
			return nil
		}},
	}
	router := httpserver.NewRouter(
		handler.NewTablesHandler(tablesSvc, log),
		handler.NewDedupHandler(maintenance, maintenanceDefaults, log),
		checks,
		log,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- router.Run(cfg.Server.Port)
	}()

	log.Info("Shard service running", zap.String("port", cfg.Server.Port))
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Shard service stopped")
}
