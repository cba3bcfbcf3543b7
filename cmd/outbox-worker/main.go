package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logger"
	"github.com/hackgods/booking-engine/internal/notify"
	"github.com/hackgods/booking-engine/internal/outbox"
	"github.com/hackgods/booking-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("outbox-worker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	if cfg.StoreBackend != "postgres" {
		return errors.New("outbox-worker requires STORE_BACKEND=postgres")
	}

	lg.Info("outbox-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Int("batch_size", cfg.OutboxBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "booking-outbox-worker",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 4)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	lg.Info("connected to Postgres")

	var notifier outbox.Notifier = notify.NewLogNotifier(lg)
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyExchange, lg)
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
		lg.Info("publishing notifications to RabbitMQ", zap.String("exchange", cfg.NotifyExchange))
	}

	var webhooks outbox.WebhookDispatcher = notify.NewLogWebhookDispatcher(lg)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaDispatcher := notify.NewKafkaWebhookDispatcher(cfg.KafkaBrokers, cfg.WebhookTopic, lg)
		defer kafkaDispatcher.Close()
		webhooks = kafkaDispatcher
		lg.Info("publishing webhooks to Kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.WebhookTopic),
		)
	}

	store := outbox.NewPgStore(pgPool, cfg.OutboxMaxAttempts, cfg.OutboxBackoff)
	relay := outbox.NewRelay(store, notifier, webhooks, lg, outbox.RelayConfig{
		Interval:  cfg.WorkerInterval,
		BatchSize: cfg.OutboxBatchSize,
	})

	relay.Run(rootCtx)
	lg.Info("shutdown signal received, outbox-worker stopped")
	return nil
}
