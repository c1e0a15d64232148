package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/feed"
	"github.com/AbuAli85/business-services-hub-sub011/internal/mqhandler"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/mq"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/otel"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/redis"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting progress worker...")

	cfg, err := config.LoadLayered(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatal("Config load failed", zap.Error(err))
	}
	if err := cfg.Validate(true, false); err != nil {
		log.Fatal("Invalid config", zap.Error(err))
	}

	shutdownTracing, err := otel.Init("progress-worker", cfg.Otel, log)
	if err != nil {
		log.Fatal("Tracing init failed", zap.Error(err))
	}
	defer shutdownTracing()

	// Redis
	rdb, err := redis.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Fatal("Redis init failed", zap.Error(err))
	}
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	dlq, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("DLQ publisher init failed", zap.Error(err))
	}
	defer dlq.Close()

	// handlers
	fanout := mqhandler.NewProgressFanoutHandler(
		feed.NewRedisBroadcaster(rdb, log),
		deduper, retryCounter, int64(cfg.Outbox.MaxRetries), log,
	)
	notifications := mqhandler.NewNotificationHandler(notify.NewLogMailer(log), deduper, retryCounter, log)

	consumers := []struct {
		queue      string
		routingKey string
		handle     mq.MessageHandler
	}{
		{"progress.updated.fanout.q", mq.RoutingProgressUpdated, fanout.HandleProgressUpdated},
		{"notification.created.mail.q", mq.RoutingNotificationCreated, notifications.HandleNotificationCreated},
	}
	for _, c := range consumers {
		log.Info("Init consumer", zap.String("queue", c.queue))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, c.queue, c.routingKey, log)
		if err != nil {
			log.Fatal("Consumer init failed", zap.String("queue", c.queue), zap.Error(err))
		}
		consumer.SetHandler(c.handle)
		consumer.SetDeadLetter(dlq)
		go func(queue string) {
			if err := consumer.StartConsuming(); err != nil {
				log.Fatal("Consumer crashed", zap.String("queue", queue), zap.Error(err))
			}
		}(c.queue)
		defer consumer.Close()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Worker running")
	<-ctx.Done()
	log.Info("Worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
