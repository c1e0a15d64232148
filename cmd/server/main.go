package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/approval"
	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/handler"
	"github.com/AbuAli85/business-services-hub-sub011/internal/httpserver"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/internal/service"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/circuitbreaker"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/db"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/mq"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/outbox"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	// 1. Load config
	cfg, err := config.LoadLayered(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatal("Config load failed", zap.Error(err))
	}
	if err := cfg.Validate(true, true); err != nil {
		log.Fatal("Invalid config", zap.Error(err))
	}

	shutdownTracing, err := otel.Init("progress-api", cfg.Otel, log)
	if err != nil {
		log.Fatal("Tracing init failed", zap.Error(err))
	}
	defer shutdownTracing()

	// 2. Init DB
	if err := db.RunMigrations(cfg.DB, log); err != nil {
		log.Fatal("Migrations failed", zap.Error(err))
	}
	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	// 3. Init RabbitMQ publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	// 4. Domain services
	store := repository.NewPGStore(pool, log)
	outboxRepo := outbox.NewRepository(pool)
	sink := events.NewOutboxSink(outboxRepo)
	notifier := notify.NewMQNotifier(publisher, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()))

	engine := cascade.NewEngine(store, sink, notifier, log)
	approvals := approval.NewService(store, engine, sink, notifier, log)
	progress := service.NewProgressService(store, engine, sink, log)
	replay := outbox.NewReplayService(outboxRepo, publisher, cfg.Outbox.MaxRetries, log)

	// 5. Router
	router := httpserver.NewRouter(httpserver.Handlers{
		Approval: handler.NewApprovalHandler(approvals, log),
		Progress: handler.NewProgressHandler(progress, log),
		Admin:    handler.NewAdminHandler(replay, log),
	}, cfg.JWT.Secret, pool.Ping)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, cfg.Outbox, log)
	go dispatcher.Start(ctx)

	// 7. Run server
	srv := router.Server(cfg.Server.Port)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
