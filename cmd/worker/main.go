package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"server/internal/adapter/repo"
	"server/internal/adapter/throttle"
	"server/internal/bus"
	"server/internal/db"
	"server/internal/infra"
	"server/internal/orchestrator"
	"server/internal/provider"
	"server/internal/storage"
)

const rabbitDialRetry = 3 * time.Second

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema apply failed")
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	conn, err := dialRabbit(ctx, cfg.RabbitURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: rabbitmq connection failed")
	}
	defer conn.Close()

	publisher, err := bus.NewRabbitPublisher(conn, cfg.QueueName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: publisher channel failed")
	}
	defer publisher.Close()

	gateway, err := provider.NewGateway(provider.Options{
		BaseURL:        cfg.ProviderBaseURL,
		Overrides:      cfg.ProviderOverrides,
		APIKey:         cfg.ProviderAPIKey,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: gateway configuration failed")
	}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, cfg.StorageSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage configuration failed")
	}

	window := throttle.NewRedisWindow(rdb, cfg.ThrottleLimit, cfg.ThrottleWindow)
	limiter := throttle.NewLimiter(window)

	orch := orchestrator.New(
		repo.NewJobRepository(dbpool),
		repo.NewCreditRepository(dbpool),
		repo.NewVoiceRepository(dbpool),
		repo.NewRunRepository(dbpool),
		gateway,
		publisher,
		limiter,
		store,
		logger,
	)

	consumer := bus.NewRabbitConsumer(conn, cfg.QueueName, cfg.ConsumerName, cfg.WorkerConcurrency, logger)
	orch.Register(consumer)

	logger.Info().Str("queue", cfg.QueueName).Msg("worker: started")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// dialRabbit retries the broker connection a few times so the worker
// tolerates starting before the broker during deploys.
func dialRabbit(ctx context.Context, url string, logger infra.Logger) (conn *bus.Connection, err error) {
	for i := 0; i < 5; i++ {
		conn, err = bus.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("worker: rabbitmq dial failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rabbitDialRetry):
		}
	}
	return nil, err
}
