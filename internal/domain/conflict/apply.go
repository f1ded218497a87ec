package conflict

import (
	"fmt"

	"fieldsync/internal/domain/entity"
)

// ApplyResolution вычисляет данные, которые нужно записать в кэш и
// отправить на сервер. Для keep_local и merge версия поднимается до
// server.version+1, чтобы следующая отправка считалась новее серверной.
func ApplyResolution(c SyncConflict, resolution Resolution, mergedData entity.Entity) (entity.Entity, error) {
	if c.ServerVersion == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoServerVersion, c.ID)
	}
	next := c.ServerVersion.Version() + 1

	switch resolution {
	case KeepLocal:
		return c.LocalVersion.Clone().SetVersion(next), nil
	case KeepServer:
		return c.ServerVersion.Clone(), nil
	case Merge:
		if mergedData == nil {
			return nil, fmt.Errorf("%w: conflict %s", ErrMergeDataRequired, c.ID)
		}
		return mergedData.Clone().SetVersion(next), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, resolution)
	}
}

// AutoMerge поле-за-полем: локальные значения поверх серверных. Только
// удобное значение по умолчанию для формы слияния, не гарантия корректности.
func AutoMerge(c SyncConflict) entity.Entity {
	merged := c.ServerVersion.Clone()
	if merged == nil {
		merged = entity.Entity{}
	}
	for _, f := range c.ConflictingFields {
		if v, ok := c.LocalVersion[f]; ok {
			merged[f] = v
		}
	}
	return merged
}
