package resource

import (
	"errors"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidData     = errors.New("invalid resource data")
	ErrVersionConflict = errors.New("resource version conflict")
)
