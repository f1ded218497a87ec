package cache

import (
	"context"

	"fieldsync/internal/domain/entity"
)

// Filter выборка из кэша по вторичным полям записи
type Filter struct {
	// Where точное совпадение значений полей
	Where map[string]any
	// Unconfirmed только записи с syncedAt=0
	Unconfirmed bool
	// SyncedBefore только записи, подтвержденные сервером раньше этой
	// метки (epoch millis); 0 без ограничения
	SyncedBefore int64
	OrderBy      string
	Limit        uint64
}

// Repository локальные копии серверных записей по типам
type Repository interface {
	// Get возвращает entity.ErrNotFound, если запись не кэширована
	Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error)
	List(ctx context.Context, t entity.Type, f Filter) ([]entity.Entity, error)
	Put(ctx context.Context, t entity.Type, e entity.Entity) error
	BulkPut(ctx context.Context, t entity.Type, es []entity.Entity) error
	Delete(ctx context.Context, t entity.Type, id string) error
	// ReplaceReferences заменяет строковые значения oldID во всех записях
	ReplaceReferences(ctx context.Context, oldID, newID string) (int, error)
}
