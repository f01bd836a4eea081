// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFitted is returned when a model is used before fit or load.
var ErrNotFitted = errors.New("model not fitted")

// ErrCycleInProgress is returned when a poll cycle is requested while one is active.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// ValidationError reports malformed input to serialization, normalization or fit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SchemaError reports training rows missing required columns.
type SchemaError struct {
	Row     int
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: row %d missing %s", e.Row, strings.Join(e.Missing, ", "))
}

// SourceFetchError wraps a failed fetch from one source.
type SourceFetchError struct {
	Source Source
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("%s:fetch:%v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// DraftError wraps a failed draft for one thread.
type DraftError struct {
	Source   Source
	ThreadID string
	Err      error
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("%s:%s:%v", e.Source, e.ThreadID, e.Err)
}

func (e *DraftError) Unwrap() error { return e.Err }
