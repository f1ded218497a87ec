package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/cache"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/utils/logger"
)

// Syncer запуск прохода синхронизации
type Syncer interface {
	SyncAll(ctx context.Context) SyncResult
}

// ResolveRequest решение пользователя по текущему конфликту
type ResolveRequest struct {
	Resolution conflict.Resolution
	MergedData entity.Entity
	// ApplyToRemaining применить keep_local/keep_server ко всем конфликтам
	// от текущего до конца списка
	ApplyToRemaining bool
}

// Status значения для индикаторов
type Status struct {
	Conflicts  int                        `json:"conflicts"`
	Pending    int                        `json:"pending"`
	Failed     int                        `json:"failed"`
	Preference conflict.SessionPreference `json:"preference,omitempty"`
}

// Workflow ведет пользователя по списку конфликтов по одному
type Workflow struct {
	store  *conflict.Store
	cache  cache.Repository
	queue  *queue.Service
	syncer Syncer
	log    *slog.Logger

	resyncDelay time.Duration
	schedule    func(d time.Duration, f func())
	now         func() time.Time

	mu         sync.Mutex
	position   int
	preference conflict.SessionPreference
}

func NewWorkflow(
	store *conflict.Store,
	cacheRepo cache.Repository,
	q *queue.Service,
	syncer Syncer,
	resyncDelay time.Duration,
	log *slog.Logger,
) *Workflow {
	return &Workflow{
		store:       store,
		cache:       cacheRepo,
		queue:       q,
		syncer:      syncer,
		log:         log.With("component", "conflict_workflow"),
		resyncDelay: resyncDelay,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		now: time.Now,
	}
}

// Current отображаемый конфликт
func (w *Workflow) Current() (conflict.SyncConflict, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.store.List()
	if len(list) == 0 {
		return conflict.SyncConflict{}, false
	}
	return list[w.clamp(len(list))], true
}

// Index позиция текущего конфликта с нуля
func (w *Workflow) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clamp(w.store.Count())
}

func (w *Workflow) Total() int {
	return w.store.Count()
}

// Next переходит к следующему конфликту без разрешения
func (w *Workflow) Next() {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := w.store.Count()
	w.position = min(w.clamp(total)+1, max(total-1, 0))
}

// Previous переходит к предыдущему конфликту без разрешения
func (w *Workflow) Previous() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.position = max(w.clamp(w.store.Count())-1, 0)
}

// Preference действующее сессионное предпочтение
func (w *Workflow) Preference() conflict.SessionPreference {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.preference
}

// Refresh перечитывает конфликты из хранилища: их могли добавить или
// разрешить другие процессы
func (w *Workflow) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refresh(ctx)
}

func (w *Workflow) refresh(ctx context.Context) error {
	if err := w.store.Load(ctx); err != nil {
		return err
	}
	w.position = w.clamp(w.store.Count())
	return nil
}

// Resolve разрешает текущий конфликт, а при ApplyToRemaining и все
// следующие за ним. Через resyncDelay запускается проход синхронизации.
func (w *Workflow) Resolve(ctx context.Context, req ResolveRequest) ([]conflict.ResolutionResult, error) {
	if !req.Resolution.Valid() {
		return nil, fmt.Errorf("%w: %q", conflict.ErrUnknownResolution, req.Resolution)
	}
	if req.Resolution == conflict.Merge && req.MergedData == nil {
		return nil, conflict.ErrMergeDataRequired
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.refresh(ctx); err != nil {
		return nil, err
	}

	list := w.store.List()
	if len(list) == 0 {
		return nil, ErrNoCurrentConflict
	}
	pos := w.clamp(len(list))

	targets := list[pos : pos+1]
	if req.ApplyToRemaining && req.Resolution != conflict.Merge {
		targets = list[pos:]
	}

	results := make([]conflict.ResolutionResult, 0, len(targets))
	for _, c := range targets {
		res, err := w.resolveOne(ctx, c, req.Resolution, req.MergedData)
		if errors.Is(err, conflict.ErrNotFound) {
			continue
		}
		if err != nil {
			w.afterResolve(ctx, len(results))
			return results, err
		}
		results = append(results, *res)
	}

	w.afterResolve(ctx, len(results))
	return results, nil
}

// SetSessionPreference включает автоматическое разрешение. Все
// оставшиеся конфликты разрешаются сразу.
func (w *Workflow) SetSessionPreference(ctx context.Context, pref conflict.SessionPreference) ([]conflict.ResolutionResult, error) {
	resolution, auto := pref.Resolution()
	if !auto && pref != conflict.PreferNone {
		return nil, fmt.Errorf("%w: preference %q", conflict.ErrUnknownResolution, pref)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.preference = pref
	w.log.Info("session preference set", slog.String("preference", string(pref)))

	if !auto {
		return nil, nil
	}

	if err := w.refresh(ctx); err != nil {
		return nil, err
	}

	list := w.store.List()
	results := make([]conflict.ResolutionResult, 0, len(list))
	for _, c := range list {
		res, err := w.resolveOne(ctx, c, resolution, nil)
		if errors.Is(err, conflict.ErrNotFound) {
			continue
		}
		if err != nil {
			w.afterResolve(ctx, len(results))
			return results, err
		}
		results = append(results, *res)
	}

	w.afterResolve(ctx, len(results))
	return results, nil
}

// Report принимает обнаруженный конфликт. Конфликт по записи, у которой
// уже есть неразрешенный, не добавляется.
func (w *Workflow) Report(ctx context.Context, c conflict.SyncConflict) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.refresh(ctx); err != nil {
		return err
	}

	if w.store.HasEntityConflict(c.EntityType, c.EntityID) {
		w.log.Debug("entity already has a conflict",
			slog.String("entity_type", c.EntityType.String()),
			slog.String("entity_id", c.EntityID),
		)
		return nil
	}

	added, err := w.store.Add(ctx, c)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	resolution, auto := w.preference.Resolution()
	if !auto {
		return nil
	}

	_, err = w.resolveOne(ctx, c, resolution, nil)
	if errors.Is(err, conflict.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-resolve %s: %w", c.ID, err)
	}
	w.afterResolve(ctx, 1)
	return nil
}

// Dismiss закрывает workflow; невозможно, пока есть конфликты
func (w *Workflow) Dismiss() error {
	if w.store.HasConflicts() {
		return fmt.Errorf("%w: %d", ErrUnresolvedConflicts, w.store.Count())
	}
	return nil
}

// ClearAll программная очистка списка конфликтов; история сохраняется.
// Сессионное предпочтение сбрасывается вместе со списком.
func (w *Workflow) ClearAll(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.store.ClearAll(ctx); err != nil {
		return err
	}
	w.position = 0
	if w.preference != conflict.PreferNone {
		w.log.Info("session preference cleared with conflict list")
		w.preference = conflict.PreferNone
	}
	return nil
}

func (w *Workflow) Status(ctx context.Context) (Status, error) {
	counts, err := w.queue.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Conflicts:  w.store.Count(),
		Pending:    counts.Pending + counts.Syncing,
		Failed:     counts.Failed,
		Preference: w.Preference(),
	}, nil
}

// resolveOne сначала закрывает конфликт в хранилище, затем записывает
// решение в кэш и в очередь. Если конфликт уже разрешен другим процессом,
// возвращает conflict.ErrNotFound и ничего не меняет. Вызывается под w.mu.
func (w *Workflow) resolveOne(ctx context.Context, c conflict.SyncConflict, resolution conflict.Resolution, mergedData entity.Entity) (*conflict.ResolutionResult, error) {
	resolved, err := conflict.ApplyResolution(c, resolution, mergedData)
	if err != nil {
		return nil, err
	}
	resolved.SetID(c.EntityID)

	payload := resolved.Clone()
	delete(payload, entity.FieldSyncedAt)

	if resolution == conflict.KeepServer {
		resolved.SetSyncedAt(w.now().UnixMilli())
	} else {
		resolved.SetSyncedAt(entity.SyncedAtUnconfirmed)
	}

	recorded := mergedData
	if resolution != conflict.Merge {
		recorded = nil
	}
	result, err := w.store.Resolve(ctx, c.ID, resolution, recorded)
	if err != nil {
		return nil, err
	}

	if err := w.apply(ctx, c, resolution, resolved, payload); err != nil {
		if _, addErr := w.store.Add(ctx, c); addErr != nil {
			w.log.Error("failed to restore conflict",
				slog.String("conflict_id", c.ID),
				logger.Err(addErr),
			)
		}
		return nil, err
	}

	return result, nil
}

// apply кладет решение в кэш и перезаряжает или ставит в очередь отправку
func (w *Workflow) apply(ctx context.Context, c conflict.SyncConflict, resolution conflict.Resolution, resolved, payload entity.Entity) error {
	if err := w.cache.Put(ctx, c.EntityType, resolved); err != nil {
		return fmt.Errorf("cache resolved %s/%s: %w", c.EntityType, c.EntityID, err)
	}

	_, err := w.queue.Rearm(ctx, c.EntityType, c.EntityID, payload)
	switch {
	case queue.IsNotFound(err):
		if resolution == conflict.KeepServer {
			return nil
		}
		_, err = w.queue.Enqueue(ctx, queue.OperationUpdate, c.EntityType, payload, c.EntityID)
		return err
	default:
		return err
	}
}

func (w *Workflow) afterResolve(ctx context.Context, resolved int) {
	w.position = w.clamp(w.store.Count())
	if resolved == 0 || w.syncer == nil {
		return
	}

	syncCtx := context.WithoutCancel(ctx)
	w.schedule(w.resyncDelay, func() {
		res := w.syncer.SyncAll(syncCtx)
		if !res.Success {
			w.log.Warn("sync after resolution incomplete",
				slog.Int("failed", res.Failed),
				slog.String("errors", strings.Join(res.Errors, "; ")),
			)
		}
	})
}

func (w *Workflow) clamp(total int) int {
	switch {
	case total == 0 || w.position < 0:
		return 0
	case w.position >= total:
		return total - 1
	default:
		return w.position
	}
}
