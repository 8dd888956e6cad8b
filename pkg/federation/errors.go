package federation

import (
	"errors"
	"fmt"
	"time"
)

// Classes of per-attempt failures
var (
	ErrScriptLoad       = errors.New("remote entry failed to load")
	ErrContainerTimeout = errors.New("container not available")
	ErrHandshake        = errors.New("container handshake failed")
	ErrExportNotFound   = errors.New("export not found")
	ErrRecentFailure    = errors.New("recently failed to load")
)

// RecentFailureError is returned without I/O while a key is cooling down
type RecentFailureError struct {
	Key        Key
	FailedAt   time.Time
	RetryAfter time.Duration
	LastError  string
}

func (e *RecentFailureError) Error() string {
	return fmt.Sprintf("module %s recently failed to load, retry in %s", e.Key, e.RetryAfter.Round(time.Millisecond))
}

func (e *RecentFailureError) Unwrap() error {
	return ErrRecentFailure
}

// LoadError is returned to every caller sharing an exhausted load
type LoadError struct {
	Key      Key
	Name     string
	URL      string
	Attempts int
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s after %d attempts, last error: %v", e.Key, e.Attempts, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
