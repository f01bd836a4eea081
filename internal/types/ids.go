// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type RunID string
type SuggestionID string
type DeliveryKey string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewSuggestionID() SuggestionID {
	return SuggestionID(uuid.New().String())
}

// NewDeliveryKey joins a source and thread id into the "<source>:<thread_id>"
// key that delivery handlers match on.
func NewDeliveryKey(source Source, threadID string) DeliveryKey {
	return DeliveryKey(strings.Join([]string{string(source), threadID}, ":"))
}
