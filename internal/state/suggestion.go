// internal/state/suggestion.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/shadowshift/internal/types"
)

const maxLineSize = 4 << 20

// SuggestionStore is a JSONL-backed append-only suggestion log.
// Suggestions are stored per source in suggestions/<source>.jsonl.
type SuggestionStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.Source]*sync.Mutex
}

// NewSuggestionStore creates a file-backed SuggestionStore rooted at root.
func NewSuggestionStore(root string) *SuggestionStore {
	return &SuggestionStore{
		root:  root,
		locks: make(map[types.Source]*sync.Mutex),
	}
}

func (s *SuggestionStore) getLock(source types.Source) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[source]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[source] = lock
	return lock
}

func (s *SuggestionStore) path(source types.Source) string {
	return filepath.Join(s.root, "suggestions", string(source)+".jsonl")
}

// count counts lines in the source file. Caller must hold the source lock.
func (s *SuggestionStore) count(source types.Source) (int64, error) {
	f, err := os.Open(s.path(source))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open suggestions file: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan suggestions file: %w", err)
	}
	return n, nil
}

// Append adds a suggestion to its source log and assigns Seq.
func (s *SuggestionStore) Append(_ context.Context, sug *types.Suggestion) error {
	src, err := types.ParseSource(string(sug.Source))
	if err != nil {
		return err
	}
	sug.Source = src
	lock := s.getLock(sug.Source)
	lock.Lock()
	defer lock.Unlock()

	if err = os.MkdirAll(filepath.Dir(s.path(sug.Source)), 0o755); err != nil {
		return fmt.Errorf("create suggestions dir: %w", err)
	}

	existing, err := s.count(sug.Source)
	if err != nil {
		return err
	}
	sug.Seq = existing + 1

	data, err := json.Marshal(sug)
	if err != nil {
		return fmt.Errorf("marshal suggestion: %w", err)
	}

	f, err := os.OpenFile(s.path(sug.Source), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open suggestions file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write suggestion: %w", err)
	}
	return nil
}

// Deliver appends sug. It lets the store sit in a delivery registry.
func (s *SuggestionStore) Deliver(ctx context.Context, sug *types.Suggestion) error {
	return s.Append(ctx, sug)
}

// Tail returns the last limit suggestions for source, oldest first.
// A limit below 1 returns all of them.
func (s *SuggestionStore) Tail(_ context.Context, source types.Source, limit int) ([]*types.Suggestion, error) {
	lock := s.getLock(source)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.path(source))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open suggestions file: %w", err)
	}
	defer f.Close()

	var out []*types.Suggestion
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var sug types.Suggestion
		if err := json.Unmarshal(scanner.Bytes(), &sug); err != nil {
			return nil, fmt.Errorf("unmarshal suggestion: %w", err)
		}
		out = append(out, &sug)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan suggestions file: %w", err)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Count returns the number of suggestions stored for source.
func (s *SuggestionStore) Count(_ context.Context, source types.Source) (int64, error) {
	lock := s.getLock(source)
	lock.Lock()
	defer lock.Unlock()

	return s.count(source)
}
