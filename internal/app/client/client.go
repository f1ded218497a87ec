package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"

	"golang.org/x/exp/slog"

	"fieldsync/internal/app/client/config"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/queue"
	redislease "fieldsync/internal/infrastructure/storage/redis"
	"fieldsync/internal/infrastructure/storage/sqlite"
	"fieldsync/internal/utils/logger"
)

const leaseName = "sync"

// App собирает движок синхронизации поверх локального хранилища
type App struct {
	config  *config.Config
	log     *slog.Logger
	storage *sqlite.Storage
	closers []func() error

	API       RemoteAPI
	Queue     *queue.Service
	Conflicts *conflict.Store
	Monitor   *Monitor
	Store     *OfflineStore
	Runner    *Runner
	Workflow  *Workflow

	wg     gosync.WaitGroup
	cancel context.CancelFunc
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := sqlite.New(cfg.DataPath, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
	}

	app := &App{
		config:  cfg,
		log:     log,
		storage: storage,
		closers: []func() error{storage.Close},
	}

	lease, err := app.newLease()
	if err != nil {
		app.Close()
		return nil, err
	}

	conflicts := conflict.NewStore(storage.Conflicts(), log)
	if err := conflicts.Load(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ошибка загрузки конфликтов: %w", err)
	}

	api := NewHTTPClient(cfg.APIURL, cfg.TokenPath, log)
	q := queue.NewService(storage.Queue(), log)
	monitor := NewMonitor(api.Health, cfg.ConnectivityInterval, log)

	runner := NewRunner(api, q, storage.Cache(), conflicts, monitor, lease, SyncConfig{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		LeaseTTL:   cfg.LeaseTTL,
	}, log)
	workflow := NewWorkflow(conflicts, storage.Cache(), q, runner, cfg.ResyncDelay, log)
	runner.ReportTo(workflow)

	app.API = api
	app.Queue = q
	app.Conflicts = conflicts
	app.Monitor = monitor
	app.Runner = runner
	app.Workflow = workflow
	app.Store = NewOfflineStore(api, storage.Cache(), q, monitor, workflow, cfg.FetchTimeout, log)

	return app, nil
}

func (a *App) newLease() (SyncLease, error) {
	switch a.config.LeaseBackend {
	case config.LeaseNone:
		return nil, nil
	case config.LeaseRedis:
		l, err := redislease.NewLease(a.config.RedisURL, leaseName)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к redis: %w", err)
		}
		a.closers = append(a.closers, l.Close)
		return l, nil
	default:
		return a.storage.Lease(leaseName), nil
	}
}

// CheckConnection проверяет соединение с сервером и обновляет состояние связи
func (a *App) CheckConnection(ctx context.Context) bool {
	return a.Monitor.Check(ctx)
}

// Run фоновый режим: мониторинг связи и синхронизация при каждом
// восстановлении, до сигнала завершения
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.handleSignals()

	stop := a.Runner.Start(a.Monitor)
	defer stop()

	unsubscribe := a.Queue.Subscribe(func(c queue.Counts) {
		a.log.Debug("queue changed",
			slog.Int("pending", c.Pending),
			slog.Int("failed", c.Failed),
		)
	})
	defer unsubscribe()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Monitor.Run(ctx)
	}()

	a.log.Info("Клиент запущен",
		"server", a.config.APIURL,
		"env", a.config.Env,
	)

	a.wg.Wait()
	a.log.Info("Клиент остановлен")
	return nil
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	a.log.Info("Получен сигнал завершения", "signal", sig.String())

	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) Shutdown() {
	a.log.Info("Завершение работы клиента...")

	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()
	a.Close()
	a.log.Info("Клиент завершил работу")
}

// Close освобождает хранилище и подключения
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", logger.Err(err))
		}
	}
	a.closers = nil
}
