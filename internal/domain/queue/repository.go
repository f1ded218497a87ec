package queue

import (
	"context"

	"fieldsync/internal/domain/entity"
)

// Repository долговременное хранилище очереди изменений
type Repository interface {
	// Add сохраняет элемент и возвращает присвоенный порядковый номер
	Add(ctx context.Context, item *Item) (int64, error)
	Get(ctx context.Context, id int64) (*Item, error)
	// ListByStatus элементы в порядке постановки (enqueued_at, id); без
	// статусов возвращает всю очередь
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
	Delete(ctx context.Context, id int64) error
	DeleteByEntity(ctx context.Context, t entity.Type, entityID string) (int, error)
	// FindLatestByEntity последний поставленный элемент записи в любом статусе
	FindLatestByEntity(ctx context.Context, t entity.Type, entityID string) (*Item, error)
	CountByEntity(ctx context.Context, t entity.Type, entityID string) (int, error)
	CountByStatus(ctx context.Context) (Counts, error)
	// ResetFailed переводит failed в pending с обнулением счетчика попыток
	ResetFailed(ctx context.Context) (int, error)
	// RewriteEntityID меняет временный идентификатор на серверный в entity_id
	RewriteEntityID(ctx context.Context, t entity.Type, oldID, newID string) (int, error)
	// ReplaceReferences заменяет строковые значения oldID в полезной нагрузке
	ReplaceReferences(ctx context.Context, oldID, newID string) (int, error)
}
