package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/utils/logger"
)

// Service очередь изменений: постановка, переходы состояний, счетчики
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time

	mu          sync.Mutex
	subscribers map[int]func(Counts)
	nextSubID   int
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		log:         log.With("component", "mutation_queue"),
		now:         time.Now,
		subscribers: make(map[int]func(Counts)),
	}
}

// Enqueue добавляет pending элемент. Сеть не используется.
func (s *Service) Enqueue(ctx context.Context, op Operation, t entity.Type, payload entity.Entity, entityID string) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if entityID == "" && op != OperationCreate {
		return 0, fmt.Errorf("%w: %s %s", ErrMissingEntityID, op, t)
	}

	item := &Item{
		Operation:  op,
		EntityType: t,
		EntityID:   entityID,
		Payload:    payload.Clone(),
		EnqueuedAt: s.now(),
		Status:     StatusPending,
	}

	id, err := s.repo.Add(ctx, item)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", op, t, err)
	}

	s.log.Debug("mutation enqueued",
		slog.Int64("item_id", id),
		slog.String("operation", string(op)),
		slog.String("entity_type", t.String()),
		slog.String("entity_id", entityID),
	)
	s.notify(ctx)

	return id, nil
}

// Pending элементы, готовые к отправке, в порядке постановки
func (s *Service) Pending(ctx context.Context) ([]*Item, error) {
	items, err := s.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	return items, nil
}

// List вся очередь в порядке постановки
func (s *Service) List(ctx context.Context) ([]*Item, error) {
	items, err := s.repo.ListByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	return s.repo.Get(ctx, id)
}

// MarkSyncing фиксирует начало попытки отправки
func (s *Service) MarkSyncing(ctx context.Context, item *Item) error {
	item.Status = StatusSyncing
	if err := s.repo.Update(ctx, item); err != nil {
		return fmt.Errorf("mark item %d syncing: %w", item.ID, err)
	}
	s.notify(ctx)
	return nil
}

// Complete удаляет подтвержденный элемент, истории успешных отправок нет
func (s *Service) Complete(ctx context.Context, item *Item) error {
	if err := s.repo.Delete(ctx, item.ID); err != nil {
		return fmt.Errorf("complete item %d: %w", item.ID, err)
	}
	s.notify(ctx)
	return nil
}

// Fail учитывает неудачную попытку. Возвращает true, если элемент
// исчерпал maxRetries и припаркован как failed.
func (s *Service) Fail(ctx context.Context, item *Item, cause error, maxRetries int) (bool, error) {
	item.RetryCount++
	if cause != nil {
		item.LastError = cause.Error()
	}

	parked := item.RetryCount >= maxRetries
	if parked {
		item.Status = StatusFailed
	} else {
		item.Status = StatusPending
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return parked, fmt.Errorf("record failure of item %d: %w", item.ID, err)
	}
	s.notify(ctx)

	return parked, nil
}

// Rearm перезаписывает полезную нагрузку последнего элемента записи и
// возвращает его в pending с нулевым счетчиком, позиция в очереди сохраняется
func (s *Service) Rearm(ctx context.Context, t entity.Type, entityID string, payload entity.Entity) (*Item, error) {
	item, err := s.repo.FindLatestByEntity(ctx, t, entityID)
	if err != nil {
		return nil, err
	}

	item.Payload = payload.Clone()
	item.Status = StatusPending
	item.RetryCount = 0
	item.LastError = ""
	if item.Operation == OperationDelete {
		item.Operation = OperationUpdate
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("rearm item %d: %w", item.ID, err)
	}
	s.notify(ctx)

	return item, nil
}

// ResetFailed возвращает все failed элементы в работу
func (s *Service) ResetFailed(ctx context.Context) (int, error) {
	n, err := s.repo.ResetFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset failed items: %w", err)
	}
	if n > 0 {
		s.log.Info("failed items reset", slog.Int("count", n))
		s.notify(ctx)
	}
	return n, nil
}

// Discard ручное удаление элемента пользователем
func (s *Service) Discard(ctx context.Context, id int64) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("discard item %d: %w", id, err)
	}

	s.log.Warn("queue item discarded",
		slog.Int64("item_id", id),
		slog.String("operation", string(item.Operation)),
		slog.String("entity_type", item.EntityType.String()),
		slog.String("entity_id", item.EntityID),
	)
	s.notify(ctx)

	return item, nil
}

// DropEntity удаляет все элементы записи
func (s *Service) DropEntity(ctx context.Context, t entity.Type, entityID string) (int, error) {
	n, err := s.repo.DeleteByEntity(ctx, t, entityID)
	if err != nil {
		return 0, fmt.Errorf("drop queue items of %s/%s: %w", t, entityID, err)
	}
	s.notify(ctx)
	return n, nil
}

// HasPending есть ли у записи неподтвержденные изменения
func (s *Service) HasPending(ctx context.Context, t entity.Type, entityID string) (bool, error) {
	n, err := s.repo.CountByEntity(ctx, t, entityID)
	if err != nil {
		return false, fmt.Errorf("count queue items of %s/%s: %w", t, entityID, err)
	}
	return n > 0, nil
}

// Latest последний поставленный элемент записи или ErrItemNotFound
func (s *Service) Latest(ctx context.Context, t entity.Type, entityID string) (*Item, error) {
	return s.repo.FindLatestByEntity(ctx, t, entityID)
}

// ReconcileID переписывает временный идентификатор на серверный во всех
// оставшихся элементах очереди
func (s *Service) ReconcileID(ctx context.Context, t entity.Type, tempID, realID string) error {
	if _, err := s.repo.RewriteEntityID(ctx, t, tempID, realID); err != nil {
		return fmt.Errorf("rewrite queue entity id %s: %w", tempID, err)
	}
	if _, err := s.repo.ReplaceReferences(ctx, tempID, realID); err != nil {
		return fmt.Errorf("rewrite queue references to %s: %w", tempID, err)
	}
	return nil
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	c, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("count queue: %w", err)
	}
	return c, nil
}

// Subscribe регистрирует получателя счетчиков; вызывается после каждого
// изменения очереди со значениями, прочитанными из хранилища
func (s *Service) Subscribe(fn func(Counts)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Service) notify(ctx context.Context) {
	s.mu.Lock()
	subs := make([]func(Counts), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.log.Warn("failed to read queue counts", logger.Err(err))
		return
	}
	for _, fn := range subs {
		fn(counts)
	}
}

// IsNotFound удобная проверка для вызывающих
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
