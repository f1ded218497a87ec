package queue

import (
	"time"

	"fieldsync/internal/domain/entity"
)

// Operation тип изменения в очереди
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Status состояние элемента очереди
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// DefaultMaxRetries после стольких неудач элемент паркуется как failed
const DefaultMaxRetries = 3

// Item одно еще не подтвержденное сервером изменение. Для create EntityID
// содержит временный идентификатор до ответа сервера.
type Item struct {
	ID         int64         `json:"id"`
	Operation  Operation     `json:"operation"`
	EntityType entity.Type   `json:"entityType"`
	EntityID   string        `json:"entityId,omitempty"`
	Payload    entity.Entity `json:"payload,omitempty"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	RetryCount int           `json:"retryCount"`
	LastError  string        `json:"lastError,omitempty"`
	Status     Status        `json:"status"`
}

// Counts значения для индикаторов в интерфейсе
type Counts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
}

// Total все неподтвержденные элементы
func (c Counts) Total() int {
	return c.Pending + c.Syncing + c.Failed
}
