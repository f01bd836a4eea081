// internal/dataset/build.go
package dataset

import (
	"fmt"
	"slices"
	"time"

	"github.com/user/shadowshift/internal/thread"
	"github.com/user/shadowshift/internal/types"
)

// MinPrefix is the shortest thread prefix that yields a training example.
const MinPrefix = 3

// Build labels every growth point of every thread. For each thread, sorted by
// timestamp, each prefix of length MinPrefix..len is labeled with DeriveLabel
// and, when a rule matches, serialized with the trailing window into one
// example keyed "<thread_id>-<prefix_length>". Threads are visited in order of
// their earliest event.
func Build(events []types.Event, window int, now time.Time) ([]types.TrainingExample, error) {
	sorted := slices.Clone(events)
	thread.Sort(sorted)

	var out []types.TrainingExample
	for _, g := range thread.GroupByThread(sorted) {
		for end := MinPrefix; end <= len(g.Events); end++ {
			prefix := g.Events[:end]
			action, ok := DeriveLabel(prefix, now)
			if !ok {
				continue
			}
			state, err := thread.Serialize(prefix, window)
			if err != nil {
				return nil, fmt.Errorf("serialize %s: %w", g.ThreadID, err)
			}
			out = append(out, types.TrainingExample{
				ID:        fmt.Sprintf("%s-%d", g.ThreadID, end),
				State:     state,
				Action:    action,
				ThreadID:  g.ThreadID,
				Timestamp: prefix[end-1].Timestamp,
			})
		}
	}
	return out, nil
}
