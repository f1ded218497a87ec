package entity

import "errors"

var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnknownType = errors.New("unknown entity type")
	ErrMissingID   = errors.New("entity id is required")
)
