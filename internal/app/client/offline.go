package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"fieldsync/internal/domain/cache"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/utils/logger"
)

// Connectivity предикат наличия связи
type Connectivity interface {
	Online() bool
}

// ConflictReporter получатель обнаруженных расхождений
type ConflictReporter interface {
	Report(ctx context.Context, c conflict.SyncConflict) error
}

// OfflineStore чтение через кэш и запись с оптимистичной локальной фиксацией.
// Вызывающий всегда получает пригодную запись независимо от связи.
type OfflineStore struct {
	api      RemoteAPI
	cache    cache.Repository
	queue    *queue.Service
	conn     Connectivity
	reporter ConflictReporter
	log      *slog.Logger

	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group
}

func NewOfflineStore(
	api RemoteAPI,
	cacheRepo cache.Repository,
	q *queue.Service,
	conn Connectivity,
	reporter ConflictReporter,
	fetchTimeout time.Duration,
	log *slog.Logger,
) *OfflineStore {
	return &OfflineStore{
		api:          api,
		cache:        cacheRepo,
		queue:        q,
		conn:         conn,
		reporter:     reporter,
		log:          log.With("component", "offline_store"),
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

// Get читает запись с сервера, при любой неудаче отдает кэшированную копию.
// Если запись нигде не найдена, возвращает entity.ErrNotFound.
func (s *OfflineStore) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if id == "" {
		return nil, entity.ErrMissingID
	}

	if s.conn.Online() && !entity.IsTemporaryID(id) {
		v, err, _ := s.group.Do("get:"+t.String()+":"+id, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			server, err := s.api.Get(fetchCtx, t, id)
			if err != nil {
				return nil, err
			}
			return s.absorb(ctx, t, server)
		})
		if err == nil {
			return v.(entity.Entity).Clone(), nil
		}
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		s.log.Debug("read-through failed, using cache",
			slog.String("entity_type", t.String()),
			slog.String("entity_id", id),
			logger.Err(err),
		)
	}

	local, err := s.cache.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// List список записей типа с точным совпадением полей where. Локально
// созданные и еще не отправленные записи добавляются к ответу сервера.
func (s *OfflineStore) List(ctx context.Context, t entity.Type, where map[string]any) ([]entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}

	if s.conn.Online() {
		v, err, _ := s.group.Do("list:"+t.String()+":"+listKey(where), func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			server, err := s.api.List(fetchCtx, t, queryParams(where))
			if err != nil {
				return nil, err
			}

			out := make([]entity.Entity, 0, len(server))
			for _, e := range server {
				absorbed, err := s.absorb(ctx, t, e)
				if errors.Is(err, entity.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				out = append(out, absorbed)
			}

			local, err := s.cache.List(ctx, t, cache.Filter{Where: where, Unconfirmed: true})
			if err != nil {
				return nil, err
			}
			for _, e := range local {
				if entity.IsTemporaryID(e.ID()) {
					out = append(out, e)
				}
			}
			return out, nil
		})
		if err == nil {
			list := v.([]entity.Entity)
			out := make([]entity.Entity, len(list))
			for i, e := range list {
				out[i] = e.Clone()
			}
			return out, nil
		}
		s.log.Debug("list read-through failed, using cache",
			slog.String("entity_type", t.String()),
			logger.Err(err),
		)
	}

	list, err := s.cache.List(ctx, t, cache.Filter{Where: where})
	if err != nil {
		return nil, fmt.Errorf("list cached %s: %w", t, err)
	}
	return list, nil
}

// absorb принимает серверную копию записи. Если у записи есть
// неподтвержденные изменения, кэш не перезаписывается и возвращается
// локальная копия, а расхождение передается на разрешение.
func (s *OfflineStore) absorb(ctx context.Context, t entity.Type, server entity.Entity) (entity.Entity, error) {
	id := server.ID()

	latest, err := s.queue.Latest(ctx, t, id)
	switch {
	case err == nil:
		if latest.Operation == queue.OperationDelete {
			return nil, fmt.Errorf("%w: %s/%s deleted locally", entity.ErrNotFound, t, id)
		}

		local, err := s.cache.Get(ctx, t, id)
		if err == nil && !local.HasVersion() {
			// изменение сделано без локальной копии: базой становится сервер
			rebased := server.Merge(local.WithoutTechnical()).
				SetID(id).
				SetVersion(server.Version()).
				SetSyncedAt(entity.SyncedAtUnconfirmed)
			if ts, ok := local.UpdatedAt(); ok {
				rebased.SetUpdatedAt(ts)
			}
			if err := s.cache.Put(ctx, t, rebased); err != nil {
				return nil, fmt.Errorf("cache %s/%s: %w", t, id, err)
			}
			return rebased, nil
		}
		if err == nil {
			if c, ok := conflict.Detect(t, id, local, server, s.now()); ok {
				s.report(ctx, c)
			}
			return local, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
	case !queue.IsNotFound(err):
		return nil, err
	}

	stamped := server.Clone().SetSyncedAt(s.now().UnixMilli())
	if err := s.cache.Put(ctx, t, stamped); err != nil {
		return nil, fmt.Errorf("cache %s/%s: %w", t, id, err)
	}
	return stamped, nil
}

func (s *OfflineStore) report(ctx context.Context, c conflict.SyncConflict) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Report(ctx, c); err != nil {
		s.log.Error("failed to report conflict",
			slog.String("conflict_id", c.ID),
			logger.Err(err),
		)
	}
}

// Create создает запись на сервере или, без связи, локально с временным
// идентификатором и ставит create в очередь.
func (s *OfflineStore) Create(ctx context.Context, t entity.Type, data entity.Entity) (entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	payload := data.WithoutTechnical()
	if payload == nil {
		payload = entity.Entity{}
	}

	if s.conn.Online() && !referencesTemporary(payload) {
		writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		created, err := s.api.Create(writeCtx, t, payload)
		cancel()
		if err == nil {
			stamped := created.Clone().SetSyncedAt(s.now().UnixMilli())
			if err := s.cache.Put(ctx, t, stamped); err != nil {
				return nil, fmt.Errorf("cache created %s: %w", t, err)
			}
			return stamped, nil
		}
		s.log.Warn("create failed, committing locally",
			slog.String("entity_type", t.String()),
			logger.Err(err),
		)
	}

	now := s.now()
	tempID := entity.NewTemporaryID(now).String()
	local := payload.Clone().
		SetID(tempID).
		SetVersion(0).
		SetUpdatedAt(now).
		SetSyncedAt(entity.SyncedAtUnconfirmed)

	if err := s.cache.Put(ctx, t, local); err != nil {
		return nil, fmt.Errorf("cache local %s: %w", t, err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.OperationCreate, t, payload, tempID); err != nil {
		return nil, err
	}

	return local, nil
}

// Update меняет поля записи. Пока у записи есть изменения в очереди,
// новое изменение тоже идет через очередь, чтобы сервер увидел их по порядку.
func (s *OfflineStore) Update(ctx context.Context, t entity.Type, id string, partial entity.Entity) (entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if id == "" {
		return nil, entity.ErrMissingID
	}
	partial = partial.WithoutTechnical()

	direct, err := s.canWriteDirectly(ctx, t, id, partial)
	if err != nil {
		return nil, err
	}

	if direct {
		writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		updated, err := s.api.Update(writeCtx, t, id, partial)
		cancel()
		if err == nil {
			stamped := updated.Clone().SetSyncedAt(s.now().UnixMilli())
			if err := s.cache.Put(ctx, t, stamped); err != nil {
				return nil, fmt.Errorf("cache updated %s/%s: %w", t, id, err)
			}
			return stamped, nil
		}
		s.log.Warn("update failed, committing locally",
			slog.String("entity_type", t.String()),
			slog.String("entity_id", id),
			logger.Err(err),
		)
	}

	local, err := s.cache.Get(ctx, t, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		local = entity.Entity{}.SetID(id)
	case err != nil:
		return nil, err
	}

	// версия остается базовой: по ней потом сравнивается ответ сервера
	merged := local.Merge(partial).
		SetID(id).
		SetUpdatedAt(s.now()).
		SetSyncedAt(entity.SyncedAtUnconfirmed)

	if err := s.cache.Put(ctx, t, merged); err != nil {
		return nil, fmt.Errorf("cache local %s/%s: %w", t, id, err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.OperationUpdate, t, partial, id); err != nil {
		return nil, err
	}

	return merged, nil
}

// Delete удаляет запись. Запись, существующая только локально, удаляется
// вместе со своими элементами очереди.
func (s *OfflineStore) Delete(ctx context.Context, t entity.Type, id string) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if id == "" {
		return entity.ErrMissingID
	}

	if entity.IsTemporaryID(id) {
		if err := s.cache.Delete(ctx, t, id); err != nil {
			return fmt.Errorf("delete local %s/%s: %w", t, id, err)
		}
		if _, err := s.queue.DropEntity(ctx, t, id); err != nil {
			return err
		}
		return nil
	}

	direct, err := s.canWriteDirectly(ctx, t, id, nil)
	if err != nil {
		return err
	}

	if direct {
		writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		err := s.api.Delete(writeCtx, t, id)
		cancel()
		if err == nil || IsNotFound(err) {
			if err := s.cache.Delete(ctx, t, id); err != nil {
				return fmt.Errorf("delete cached %s/%s: %w", t, id, err)
			}
			return nil
		}
		s.log.Warn("delete failed, committing locally",
			slog.String("entity_type", t.String()),
			slog.String("entity_id", id),
			logger.Err(err),
		)
	}

	if err := s.cache.Delete(ctx, t, id); err != nil {
		return fmt.Errorf("delete cached %s/%s: %w", t, id, err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.OperationDelete, t, nil, id); err != nil {
		return err
	}
	return nil
}

func (s *OfflineStore) canWriteDirectly(ctx context.Context, t entity.Type, id string, payload entity.Entity) (bool, error) {
	if !s.conn.Online() || entity.IsTemporaryID(id) || referencesTemporary(payload) {
		return false, nil
	}
	pending, err := s.queue.HasPending(ctx, t, id)
	if err != nil {
		return false, err
	}
	return !pending, nil
}

// For коллекция одного типа
func (s *OfflineStore) For(t entity.Type) *Collection {
	return &Collection{store: s, typ: t}
}

// Collection операции над записями одного типа
type Collection struct {
	store *OfflineStore
	typ   entity.Type
}

func (c *Collection) Get(ctx context.Context, id string) (entity.Entity, error) {
	return c.store.Get(ctx, c.typ, id)
}

func (c *Collection) List(ctx context.Context, where map[string]any) ([]entity.Entity, error) {
	return c.store.List(ctx, c.typ, where)
}

func (c *Collection) Create(ctx context.Context, data entity.Entity) (entity.Entity, error) {
	return c.store.Create(ctx, c.typ, data)
}

func (c *Collection) Update(ctx context.Context, id string, partial entity.Entity) (entity.Entity, error) {
	return c.store.Update(ctx, c.typ, id, partial)
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.typ, id)
}

// referencesTemporary есть ли среди значений ссылка на несозданную запись
func referencesTemporary(v any) bool {
	switch val := v.(type) {
	case string:
		return entity.IsTemporaryID(val)
	case entity.Entity:
		return referencesTemporary(map[string]any(val))
	case map[string]any:
		for k, item := range val {
			if k == "id" {
				continue
			}
			if referencesTemporary(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if referencesTemporary(item) {
				return true
			}
		}
	}
	return false
}

func queryParams(where map[string]any) map[string]string {
	if len(where) == 0 {
		return nil
	}
	params := make(map[string]string, len(where))
	for k, v := range where {
		params[k] = fmt.Sprint(v)
	}
	return params
}

func listKey(where map[string]any) string {
	params := queryParams(where)
	keys := make([]string, 0, len(params))
	for k, v := range params {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}
