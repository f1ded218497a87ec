package conflict

import "errors"

var (
	ErrNotFound          = errors.New("conflict not found")
	ErrMergeDataRequired = errors.New("merge resolution requires merged data")
	ErrUnknownResolution = errors.New("unknown conflict resolution")
	ErrNoServerVersion   = errors.New("conflict has no server version")
)
