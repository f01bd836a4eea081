// internal/thread/thread_test.go
package thread

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/types"
)

func at(h, m int) time.Time {
	return time.Date(2025, 1, 6, h, m, 0, 0, time.UTC)
}

func TestSerializeScenario(t *testing.T) {
	events := []types.Event{
		{ID: "1", Source: types.SourceMail, ThreadID: "t1", Actor: "alice", Text: "can you review this? EOD", Timestamp: at(10, 0)},
		{ID: "2", Source: types.SourceChat, ThreadID: "t1", Actor: types.SelfActor, Text: "sure", Timestamp: at(10, 5)},
	}

	got, err := Serialize(events, 5)
	require.NoError(t, err)

	want := "[Thread: t1 | Sources: chat, mail]\n" +
		"2025-01-06 10:00 other: can you review this? EOD\n" +
		"2025-01-06 10:05 you: sure"
	assert.Equal(t, want, got)
}

func TestSerializeDeterministic(t *testing.T) {
	events := []types.Event{
		{Source: types.SourceVCS, ThreadID: "r", Actor: "x", Text: "b", Timestamp: at(9, 0)},
		{Source: types.SourceVCS, ThreadID: "r", Actor: "y", Text: "a", Timestamp: at(8, 0)},
	}
	first, err := Serialize(events, 5)
	require.NoError(t, err)
	second, err := Serialize(events, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// input slice is not reordered
	assert.Equal(t, "b", events[0].Text)
}

func TestSerializeWindowBounds(t *testing.T) {
	var events []types.Event
	for i := 0; i < 12; i++ {
		src := types.SourceMail
		if i < 6 {
			src = types.SourceChat
		}
		events = append(events, types.Event{
			Source:    src,
			ThreadID:  "long",
			Actor:     "a",
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: at(8, i),
		})
	}

	for _, n := range []int{1, 3, 5, 12, 20} {
		out, err := Serialize(events, n)
		require.NoError(t, err)
		lines := strings.Split(out, "\n")
		want := n
		if want > len(events) {
			want = len(events)
		}
		assert.Len(t, lines[1:], want, "window %d", n)
	}

	// last five events are all mail; the chat events fall outside the window
	out, err := Serialize(events, 5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[Thread: long | Sources: mail]"))
}

func TestSerializeTiesKeepArrivalOrder(t *testing.T) {
	events := []types.Event{
		{Source: types.SourceChat, ThreadID: "c", Actor: "a", Text: "first", Timestamp: at(10, 0)},
		{Source: types.SourceChat, ThreadID: "c", Actor: "a", Text: "second", Timestamp: at(10, 0)},
	}
	out, err := Serialize(events, 5)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[1], "first")
	assert.Contains(t, lines[2], "second")
}

func TestSerializeFlattensLineBreaks(t *testing.T) {
	events := []types.Event{{Source: types.SourceVCS, ThreadID: "r", Actor: "a", Text: "subject\n\nbody", Timestamp: at(1, 0)}}
	out, err := Serialize(events, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, len(strings.Split(out, "\n")))
}

func TestSerializeRejectsEmpty(t *testing.T) {
	_, err := Serialize(nil, 5)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = Serialize([]types.Event{{Timestamp: at(1, 0)}}, 0)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "window", verr.Field)
}

func TestGroupByThread(t *testing.T) {
	events := []types.Event{
		{ID: "1", Source: types.SourceChat, ThreadID: "b"},
		{ID: "2", Source: types.SourceChat, ThreadID: "a"},
		{ID: "3", Source: types.SourceChat, ThreadID: "b"},
		{ID: "4", Source: types.SourceChat},
	}
	groups := GroupByThread(events)
	require.Len(t, groups, 3)
	assert.Equal(t, "b", groups[0].ThreadID)
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "a", groups[1].ThreadID)
	assert.Equal(t, "chat-4", groups[2].ThreadID)
	assert.Equal(t, "chat-4", groups[2].Events[0].ThreadID)
}
