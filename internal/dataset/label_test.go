// internal/dataset/label_test.go
package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/user/shadowshift/internal/types"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func ev(actor, text string, age time.Duration) types.Event {
	return types.Event{Source: types.SourceChat, ThreadID: "t", Actor: actor, Text: text, Timestamp: now.Add(-age)}
}

func TestDeriveLabel(t *testing.T) {
	tests := []struct {
		name    string
		history []types.Event
		want    types.Action
		ok      bool
	}{
		{
			name:    "urgent beats question",
			history: []types.Event{ev("a", "hi", time.Hour), ev("a", "can you ship this ASAP?", time.Minute)},
			want:    types.ActionReplyUrgent, ok: true,
		},
		{
			name:    "question",
			history: []types.Event{ev("a", "did the build pass?", time.Minute)},
			want:    types.ActionReply, ok: true,
		},
		{
			name:    "request phrase",
			history: []types.Event{ev("a", "PTAL when free", time.Minute)},
			want:    types.ActionReply, ok: true,
		},
		{
			name:    "self events are skipped to find the last non-self",
			history: []types.Event{ev("a", "please review", 2 * time.Hour), ev(types.SelfActor, "on it", time.Hour)},
			want:    types.ActionReply, ok: true,
		},
		{
			name: "only the newest non-self event is examined",
			history: []types.Event{
				ev("a", "blocker: need this today", 3 * time.Hour),
				ev(types.SelfActor, "done", 2 * time.Hour),
				ev("b", "thanks", time.Hour),
			},
			ok: false,
		},
		{
			name:    "urgent wins over stale",
			history: []types.Event{ev("a", "deadline tomorrow", 48 * time.Hour)},
			want:    types.ActionReplyUrgent, ok: true,
		},
		{
			name:    "stale non-self last event",
			history: []types.Event{ev("a", "fyi", 25 * time.Hour)},
			want:    types.ActionFollowUp, ok: true,
		},
		{
			name:    "stale but last is self",
			history: []types.Event{ev("a", "fyi", 50 * time.Hour), ev(types.SelfActor, "noted", 25 * time.Hour)},
			ok:      false,
		},
		{
			name:    "closing marker",
			history: []types.Event{ev("a", "Fixes #42", 2 * time.Hour), ev(types.SelfActor, "merged", time.Hour)},
			want:    types.ActionSummarize, ok: true,
		},
		{
			name:    "nothing matches",
			history: []types.Event{ev("a", "hello", time.Hour), ev(types.SelfActor, "hi", time.Minute)},
			ok:      false,
		},
		{
			name: "empty",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DeriveLabel(tt.history, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveLabelLongThreadSummarizes(t *testing.T) {
	var history []types.Event
	for i := 0; i < 10; i++ {
		history = append(history, ev(types.SelfActor, "note", time.Duration(10-i)*time.Minute))
	}
	got, ok := DeriveLabel(history, now)
	assert.True(t, ok)
	assert.Equal(t, types.ActionSummarize, got)

	got, ok = DeriveLabel(history[:9], now)
	assert.False(t, ok)
	assert.Equal(t, types.Action(""), got)
}
