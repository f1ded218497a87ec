package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/app/server/api"
	"fieldsync/internal/app/server/config"
	"fieldsync/internal/domain/resource"
	"fieldsync/internal/infrastructure/storage/memory"
	"fieldsync/internal/infrastructure/storage/postgres"
	"fieldsync/internal/utils/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	conf := config.MustLoad()
	log := logger.New(conf.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, log); err != nil {
		log.Error("сервер остановлен с ошибкой", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *config.Config, log *slog.Logger) error {
	var (
		repo resource.Repository
		opts = api.Options{TokenHash: conf.Server.TokenHash}
	)

	if conf.InMemory() {
		log.Warn("DATABASE_URI не задан, данные хранятся в памяти")
		repo = memory.NewResourceRepository()
		opts.Storage = "memory"
	} else {
		storage, err := postgres.New(ctx, conf.DB.DatabaseURI, conf.DB.Migrations)
		if err != nil {
			return err
		}
		defer storage.Close()

		repo = postgres.NewResourceRepository(storage.Pool(), log)
		opts.Storage = "postgres"
		opts.Ping = storage.Pool().Ping
	}
	if !conf.AuthEnabled() {
		log.Warn("API_TOKEN_HASH не задан, авторизация отключена")
	}

	srv := &http.Server{
		Addr:              conf.Server.RunAddress,
		Handler:           api.New(resource.NewService(repo, log), opts, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("сервер запущен", slog.String("address", conf.Server.RunAddress), slog.String("storage", opts.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("остановка сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
