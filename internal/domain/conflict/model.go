package conflict

import (
	"time"

	"fieldsync/internal/domain/entity"
)

// Resolution стратегия разрешения конфликта
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	KeepServer Resolution = "keep_server"
	Merge      Resolution = "merge"
)

func (r Resolution) Valid() bool {
	switch r {
	case KeepLocal, KeepServer, Merge:
		return true
	}
	return false
}

// SessionPreference автоматическое разрешение на время сессии
type SessionPreference string

const (
	PreferNone   SessionPreference = ""
	AlwaysLocal  SessionPreference = "always_local"
	AlwaysServer SessionPreference = "always_server"
)

// Resolution стратегия, соответствующая предпочтению
func (p SessionPreference) Resolution() (Resolution, bool) {
	switch p {
	case AlwaysLocal:
		return KeepLocal, true
	case AlwaysServer:
		return KeepServer, true
	}
	return "", false
}

// SyncConflict расхождение локальной и серверной версии одной записи
type SyncConflict struct {
	ID                string        `json:"id"`
	EntityType        entity.Type   `json:"entityType"`
	EntityID          string        `json:"entityId"`
	EntityLabel       string        `json:"entityLabel"`
	LocalVersion      entity.Entity `json:"localVersion"`
	ServerVersion     entity.Entity `json:"serverVersion"`
	LocalTimestamp    time.Time     `json:"localTimestamp"`
	ServerTimestamp   time.Time     `json:"serverTimestamp"`
	ConflictingFields []string      `json:"conflictingFields"`
	DetectedAt        time.Time     `json:"detectedAt"`
}

// ResolutionResult неизменяемая запись истории разрешений
type ResolutionResult struct {
	ConflictID string        `json:"conflictId"`
	Resolution Resolution    `json:"resolution"`
	MergedData entity.Entity `json:"mergedData,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// HistoryLimit сколько последних разрешений хранится
const HistoryLimit = 50
