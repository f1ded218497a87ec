package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnresolvedConflicts = errors.New("unresolved conflicts remain")
	ErrNoCurrentConflict   = errors.New("no conflict to resolve")
	ErrOffline             = errors.New("offline")
	ErrSyncInProgress      = errors.New("sync already running")
	ErrLeaseHeld           = errors.New("sync lease held by another process")
)

// StatusError ответ API с кодом не из 2xx
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound сервер ответил 404
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
