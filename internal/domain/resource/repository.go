package resource

import (
	"context"

	"fieldsync/internal/domain/entity"
)

// Repository хранилище записей сервера. Записи хранятся целиком, вместе
// со служебными полями id, version и updatedAt.
type Repository interface {
	Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error)
	// List записи типа, у которых строковое значение каждого поля из filter
	// совпадает с заданным
	List(ctx context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error)
	Insert(ctx context.Context, t entity.Type, e entity.Entity) error
	// Replace перезаписывает запись, если ее текущая версия равна prevVersion
	Replace(ctx context.Context, t entity.Type, e entity.Entity, prevVersion int64) error
	Delete(ctx context.Context, t entity.Type, id string) error
}
