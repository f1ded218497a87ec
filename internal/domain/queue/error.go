package queue

import "errors"

var (
	ErrItemNotFound     = errors.New("queue item not found")
	ErrInvalidOperation = errors.New("invalid queue operation")
	ErrMissingEntityID  = errors.New("queue item requires an entity id")
)
