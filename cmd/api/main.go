package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"server/internal/adapter/repo"
	"server/internal/bus"
	"server/internal/db"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	conn, err := bus.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect rabbitmq")
	}
	defer conn.Close()

	publisher, err := bus.NewRabbitPublisher(conn, cfg.QueueName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open publisher channel")
	}
	defer publisher.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, cfg.StorageSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	app := &handlers.App{
		Cfg:     cfg,
		Log:     logger,
		Jobs:    repo.NewJobRepository(dbpool),
		Credits: repo.NewCreditRepository(dbpool),
		Voices:  repo.NewVoiceRepository(dbpool),
		Bus:     publisher,
		Store:   store,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app), logger)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
