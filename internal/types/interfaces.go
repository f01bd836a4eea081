// internal/types/interfaces.go
package types

import "context"

// SuggestionStore persists drafted suggestions.
type SuggestionStore interface {
	Append(ctx context.Context, s *Suggestion) error
	Tail(ctx context.Context, source Source, limit int) ([]*Suggestion, error)
	Count(ctx context.Context, source Source) (int64, error)
}

// Sink receives suggestions as a poll cycle produces them.
type Sink interface {
	Deliver(ctx context.Context, s *Suggestion) error
}
