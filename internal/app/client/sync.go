package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/cache"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/utils/logger"
)

// SyncLease межпроцессная блокировка прохода синхронизации
type SyncLease interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// SyncConfig параметры прохода синхронизации
type SyncConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	LeaseTTL   time.Duration
}

// SyncResult итог одного прохода
type SyncResult struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Parked  int      `json:"parked"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Runner отправляет очередь изменений на сервер строго по порядку
type Runner struct {
	api       RemoteAPI
	queue     *queue.Service
	cache     cache.Repository
	conflicts *conflict.Store
	conn      Connectivity
	lease     SyncLease
	reporter  ConflictReporter
	log       *slog.Logger

	owner      string
	maxRetries int
	retryDelay time.Duration
	leaseTTL   time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	syncing atomic.Bool
}

func NewRunner(
	api RemoteAPI,
	q *queue.Service,
	cacheRepo cache.Repository,
	conflicts *conflict.Store,
	conn Connectivity,
	lease SyncLease,
	cfg SyncConfig,
	log *slog.Logger,
) *Runner {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = queue.DefaultMaxRetries
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}

	return &Runner{
		api:        api,
		queue:      q,
		cache:      cacheRepo,
		conflicts:  conflicts,
		conn:       conn,
		lease:      lease,
		log:        log.With("component", "sync_runner"),
		owner:      uuid.NewString(),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		leaseTTL:   cfg.LeaseTTL,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// ReportTo направляет обнаруженные при отправке конфликты в workflow.
// Без получателя конфликт просто сохраняется в хранилище.
func (r *Runner) ReportTo(reporter ConflictReporter) {
	r.reporter = reporter
}

// IsSyncing идет ли сейчас проход
func (r *Runner) IsSyncing() bool {
	return r.syncing.Load()
}

// Start подписывает проход на каждое восстановление связи
func (r *Runner) Start(m *Monitor) (stop func()) {
	return m.OnReconnect(func(ctx context.Context) {
		res := r.SyncAll(ctx)
		r.log.Info("sync after reconnect",
			slog.Bool("success", res.Success),
			slog.Int("synced", res.Synced),
			slog.Int("failed", res.Failed),
		)
	})
}

// RetryFailed возвращает припаркованные элементы в работу и запускает проход
func (r *Runner) RetryFailed(ctx context.Context) SyncResult {
	if _, err := r.queue.ResetFailed(ctx); err != nil {
		r.log.Error("failed to reset failed items", logger.Err(err))
		return SyncResult{Errors: []string{err.Error()}}
	}
	return r.SyncAll(ctx)
}

// SyncAll один проход по pending элементам в порядке постановки. Ошибки
// отправки не возвращаются, а переводятся в состояние элементов очереди.
func (r *Runner) SyncAll(ctx context.Context) SyncResult {
	if !r.conn.Online() {
		return SyncResult{Errors: []string{ErrOffline.Error()}}
	}
	if !r.syncing.CompareAndSwap(false, true) {
		return SyncResult{Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer r.syncing.Store(false)

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, r.owner, r.leaseTTL)
		if err != nil {
			r.log.Warn("failed to acquire sync lease", logger.Err(err))
			return SyncResult{Errors: []string{err.Error()}}
		}
		if !ok {
			r.log.Debug("sync lease held elsewhere")
			return SyncResult{Errors: []string{ErrLeaseHeld.Error()}}
		}
		defer func() {
			if err := r.lease.Release(context.WithoutCancel(ctx), r.owner); err != nil {
				r.log.Warn("failed to release sync lease", logger.Err(err))
			}
		}()
	}

	// конфликты могли разрешить в другом процессе
	if err := r.conflicts.Load(ctx); err != nil {
		r.log.Warn("failed to refresh conflicts", logger.Err(err))
	}

	start := r.now()
	res := r.drain(ctx)
	res.Success = res.Failed == 0

	r.log.Info("sync pass finished",
		slog.Bool("success", res.Success),
		slog.Int("synced", res.Synced),
		slog.Int("failed", res.Failed),
		slog.Int("parked", res.Parked),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", r.now().Sub(start)),
	)

	return res
}

func (r *Runner) drain(ctx context.Context) SyncResult {
	res := SyncResult{Errors: []string{}}

	all, err := r.queue.List(ctx)
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	// запись с неотправленным более ранним элементом блокирует более поздние
	blocked := make(map[string]struct{})
	var pending []*queue.Item
	for _, item := range all {
		switch item.Status {
		// syncing остается только после прерванного прохода
		case queue.StatusPending, queue.StatusSyncing:
			pending = append(pending, item)
		default:
			blocked[entityKey(item.EntityType, item.EntityID)] = struct{}{}
		}
	}

	for _, snapshot := range pending {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}

		item, err := r.queue.Get(ctx, snapshot.ID)
		if err != nil {
			if !queue.IsNotFound(err) {
				r.log.Warn("failed to reload queue item", slog.Int64("item_id", snapshot.ID), logger.Err(err))
			}
			continue
		}
		if item.Status == queue.StatusFailed {
			continue
		}

		key := entityKey(item.EntityType, item.EntityID)
		if reason, ok := r.deferReason(item, blocked); ok {
			blocked[key] = struct{}{}
			res.Skipped++
			r.log.Debug("queue item deferred",
				slog.Int64("item_id", item.ID),
				slog.String("reason", reason),
			)
			continue
		}

		if item.Operation == queue.OperationUpdate {
			item, err = r.reconcile(ctx, item)
			if err != nil {
				r.fail(ctx, item, err, &res)
				blocked[key] = struct{}{}
				continue
			}
			if item == nil {
				blocked[key] = struct{}{}
				res.Skipped++
				continue
			}
		}

		if err := r.queue.MarkSyncing(ctx, item); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			blocked[key] = struct{}{}
			continue
		}

		server, err := r.push(ctx, item)
		if err != nil {
			r.fail(ctx, item, err, &res)
			blocked[key] = struct{}{}
			continue
		}

		if err := r.queue.Complete(ctx, item); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			blocked[key] = struct{}{}
			continue
		}
		res.Synced++

		if err := r.acknowledge(ctx, item, server); err != nil {
			r.log.Error("failed to apply server response",
				slog.Int64("item_id", item.ID),
				logger.Err(err),
			)
			res.Errors = append(res.Errors, err.Error())
		}
	}

	return res
}

func (r *Runner) deferReason(item *queue.Item, blocked map[string]struct{}) (string, bool) {
	if _, ok := blocked[entityKey(item.EntityType, item.EntityID)]; ok {
		return "earlier change of the same entity is not synced", true
	}
	if r.conflicts.HasEntityConflict(item.EntityType, item.EntityID) {
		return "entity has an unresolved conflict", true
	}
	if item.Operation != queue.OperationCreate && entity.IsTemporaryID(item.EntityID) {
		return "entity is not created on the server yet", true
	}
	if referencesTemporary(item.Payload) {
		return "payload references an entity not created on the server yet", true
	}
	return "", false
}

// reconcile сверяет базовую версию локальной копии с сервером перед
// отправкой update. Возвращает nil, если элемент остановлен конфликтом.
func (r *Runner) reconcile(ctx context.Context, item *queue.Item) (*queue.Item, error) {
	local, err := r.cache.Get(ctx, item.EntityType, item.EntityID)
	if errors.Is(err, entity.ErrNotFound) {
		return item, nil
	}
	if err != nil {
		return item, fmt.Errorf("read cached %s/%s: %w", item.EntityType, item.EntityID, err)
	}
	if !local.HasVersion() {
		return item, nil
	}

	server, err := r.api.Get(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return item, fmt.Errorf("fetch %s/%s: %w", item.EntityType, item.EntityID, err)
	}

	c, ok := conflict.Detect(item.EntityType, item.EntityID, local, server, r.now())
	if !ok {
		return item, nil
	}

	if err := r.report(ctx, c); err != nil {
		return item, err
	}

	// при сессионном предпочтении конфликт уже разрешен и элемент перезаписан
	if r.conflicts.HasEntityConflict(item.EntityType, item.EntityID) {
		return nil, nil
	}
	reloaded, err := r.queue.Get(ctx, item.ID)
	if err != nil {
		return item, err
	}
	return reloaded, nil
}

func (r *Runner) report(ctx context.Context, c conflict.SyncConflict) error {
	if r.reporter != nil {
		return r.reporter.Report(ctx, c)
	}
	_, err := r.conflicts.Add(ctx, c)
	return err
}

func (r *Runner) push(ctx context.Context, item *queue.Item) (entity.Entity, error) {
	r.log.Debug("pushing queue item",
		slog.Int64("item_id", item.ID),
		slog.String("operation", string(item.Operation)),
		slog.String("entity_type", item.EntityType.String()),
		slog.String("entity_id", item.EntityID),
		slog.Int("retry", item.RetryCount),
	)

	switch item.Operation {
	case queue.OperationCreate:
		return r.api.Create(ctx, item.EntityType, item.Payload.WithoutTechnical())
	case queue.OperationUpdate:
		return r.api.Update(ctx, item.EntityType, item.EntityID, item.Payload)
	case queue.OperationDelete:
		err := r.api.Delete(ctx, item.EntityType, item.EntityID)
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %q", queue.ErrInvalidOperation, item.Operation)
	}
}

func (r *Runner) fail(ctx context.Context, item *queue.Item, cause error, res *SyncResult) {
	res.Failed++
	res.Errors = append(res.Errors, fmt.Sprintf("%s %s/%s: %v", item.Operation, item.EntityType, item.EntityID, cause))

	parked, err := r.queue.Fail(ctx, item, cause, r.maxRetries)
	if err != nil {
		r.log.Error("failed to record sync failure", slog.Int64("item_id", item.ID), logger.Err(err))
		return
	}

	if parked {
		res.Parked++
		r.log.Error("queue item parked after retries",
			slog.Int64("item_id", item.ID),
			slog.String("operation", string(item.Operation)),
			slog.String("entity_type", item.EntityType.String()),
			slog.String("entity_id", item.EntityID),
			slog.Int("retries", item.RetryCount),
			logger.Err(cause),
		)
		return
	}

	delay := r.retryDelay * time.Duration(1<<item.RetryCount)
	r.log.Warn("queue item failed, backing off",
		slog.Int64("item_id", item.ID),
		slog.Int("retry", item.RetryCount),
		slog.Duration("delay", delay),
		logger.Err(cause),
	)
	r.sleep(ctx, delay)
}

// acknowledge переносит ответ сервера в локальное состояние
func (r *Runner) acknowledge(ctx context.Context, item *queue.Item, server entity.Entity) error {
	t := item.EntityType

	switch item.Operation {
	case queue.OperationDelete:
		return r.cache.Delete(ctx, t, item.EntityID)

	case queue.OperationCreate:
		tempID := item.EntityID
		realID := server.ID()
		if realID == "" {
			return fmt.Errorf("create %s: server returned no id", t)
		}
		if tempID != "" && tempID != realID {
			if err := r.queue.ReconcileID(ctx, t, tempID, realID); err != nil {
				return err
			}
			if _, err := r.cache.ReplaceReferences(ctx, tempID, realID); err != nil {
				return fmt.Errorf("rewrite cached references to %s: %w", tempID, err)
			}
			r.log.Info("temporary id reconciled",
				slog.String("entity_type", t.String()),
				slog.String("temp_id", tempID),
				slog.String("id", realID),
			)
		}
		if err := r.refreshCache(ctx, t, server, tempID); err != nil {
			return err
		}
		if tempID != "" && tempID != realID {
			return r.cache.Delete(ctx, t, tempID)
		}
		return nil

	default:
		return r.refreshCache(ctx, t, server, item.EntityID)
	}
}

// refreshCache сохраняет серверную копию. Если в очереди остались более
// поздние изменения записи, локальные поля сохраняются, а базовой
// становится серверная версия.
func (r *Runner) refreshCache(ctx context.Context, t entity.Type, server entity.Entity, localID string) error {
	if server == nil {
		return nil
	}
	id := server.ID()

	pending, err := r.queue.HasPending(ctx, t, id)
	if err != nil {
		return err
	}

	if pending {
		local, err := r.cache.Get(ctx, t, localID)
		if err == nil {
			rebased := local.SetID(id).SetVersion(server.Version())
			return r.cache.Put(ctx, t, rebased)
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return err
		}
	}

	return r.cache.Put(ctx, t, server.Clone().SetSyncedAt(r.now().UnixMilli()))
}

func entityKey(t entity.Type, id string) string {
	return t.String() + "/" + id
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
