// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/shadowshift/internal/types"

// Compile-time interface compliance checks.
var _ types.SuggestionStore = (*SuggestionStore)(nil)
var _ types.Sink = (*SuggestionStore)(nil)
