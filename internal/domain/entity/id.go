package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemporaryPrefix префикс локально сгенерированных идентификаторов
const TemporaryPrefix = "temp-"

// ID идентификатор записи: постоянный (выдан сервером) или временный
// (создан офлайн и ждет подтверждения)
type ID struct {
	value     string
	temporary bool
}

// Permanent идентификатор, выданный сервером
func Permanent(serverID string) ID {
	return ID{value: serverID}
}

// NewTemporaryID генерирует temp-<millis>-<random>
func NewTemporaryID(now time.Time) ID {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ID{
		value:     fmt.Sprintf("%s%d-%s", TemporaryPrefix, now.UnixMilli(), random),
		temporary: true,
	}
}

// ParseID восстанавливает вариант по строковому представлению
func ParseID(s string) ID {
	return ID{value: s, temporary: IsTemporaryID(s)}
}

// IsTemporaryID true для идентификаторов, которых сервер ещё не видел
func IsTemporaryID(s string) bool {
	return strings.HasPrefix(s, TemporaryPrefix)
}

func (id ID) String() string {
	return id.value
}

func (id ID) IsTemporary() bool {
	return id.temporary
}

func (id ID) IsZero() bool {
	return id.value == ""
}
