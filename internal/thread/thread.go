// internal/thread/thread.go
package thread

import (
	"slices"
	"sort"
	"strings"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

// DefaultWindow is the number of trailing events kept in a state.
const DefaultWindow = 5

const timeLayout = "2006-01-02 15:04"

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Sort orders events by timestamp in place. Events with equal timestamps keep
// their arrival order.
func Sort(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// Window returns the trailing n events of a sorted copy of events.
func Window(events []types.Event, n int) []types.Event {
	sorted := slices.Clone(events)
	Sort(sorted)
	if n < len(sorted) {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// Serialize renders the trailing window of a thread as a state string:
//
//	[Thread: <thread_id> | Sources: <sorted sources>]
//	2006-01-02 15:04 you|other: <text>
//
// The header names the thread of the last windowed event and only the sources
// present in the window. Line breaks inside event text become spaces so each
// event stays on one line.
func Serialize(events []types.Event, window int) (string, error) {
	if len(events) == 0 {
		return "", &types.ValidationError{Field: "events", Reason: "at least one event is required"}
	}
	if window < 1 {
		return "", &types.ValidationError{Field: "window", Reason: "must be at least 1"}
	}

	ctx := Window(events, window)

	seen := make(map[types.Source]struct{}, 3)
	sources := make([]string, 0, 3)
	for _, ev := range ctx {
		if _, ok := seen[ev.Source]; ok {
			continue
		}
		seen[ev.Source] = struct{}{}
		sources = append(sources, string(ev.Source))
	}
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString("[Thread: ")
	b.WriteString(ctx[len(ctx)-1].ThreadID)
	b.WriteString(" | Sources: ")
	b.WriteString(strings.Join(sources, ", "))
	b.WriteString("]")

	for _, ev := range ctx {
		who := "other"
		if ev.IsSelf() {
			who = "you"
		}
		b.WriteByte('\n')
		b.WriteString(ev.Timestamp.UTC().Format(timeLayout))
		b.WriteByte(' ')
		b.WriteString(who)
		b.WriteString(": ")
		b.WriteString(lineBreaks.Replace(ev.Text))
	}
	return b.String(), nil
}

// Group is the events of one thread in arrival order.
type Group struct {
	ThreadID string
	Events   []types.Event
}

// GroupByThread splits events by thread id, keeping threads in order of first
// appearance. Events without a thread id get a synthetic per-event thread.
func GroupByThread(events []types.Event) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, ev := range events {
		tid := ev.ThreadID
		if tid == "" {
			tid = normalize.SyntheticThreadID(ev.Source, ev.ID)
			ev.ThreadID = tid
		}
		i, ok := index[tid]
		if !ok {
			i = len(groups)
			index[tid] = i
			groups = append(groups, Group{ThreadID: tid})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}
