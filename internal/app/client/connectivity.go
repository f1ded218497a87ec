package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/utils/logger"
)

const probeTimeout = 5 * time.Second

// Probe проверка доступности сервера
type Probe func(ctx context.Context) error

// Monitor предикат online и событие восстановления связи
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      *slog.Logger

	online atomic.Bool

	mu        sync.Mutex
	listeners map[int]func(context.Context)
	nextID    int
}

func NewMonitor(probe Probe, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		probe:     probe,
		interval:  interval,
		log:       log.With("component", "connectivity"),
		listeners: make(map[int]func(context.Context)),
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline фиксирует состояние связи. Переход offline -> online
// синхронно вызывает подписчиков OnReconnect.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	if !online {
		m.log.Info("connection lost")
		return
	}

	m.log.Info("connection restored")

	m.mu.Lock()
	fns := make([]func(context.Context), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

// OnReconnect подписка на восстановление связи
func (m *Monitor) OnReconnect(fn func(context.Context)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Check опрашивает сервер один раз и обновляет состояние
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.probe(probeCtx)
	if err != nil {
		m.log.Debug("health probe failed", logger.Err(err))
	}
	m.SetOnline(ctx, err == nil)

	return err == nil
}

// Run опрашивает сервер сразу и затем с интервалом до отмены ctx
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	if m.interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
