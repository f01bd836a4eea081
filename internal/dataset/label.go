// internal/dataset/label.go
package dataset

import (
	"strings"
	"time"

	"github.com/user/shadowshift/internal/types"
)

var (
	urgentKeywords  = []string{"asap", "eod", "deadline", "eta", "urgent", "priority", "immediately", "today", "blocker"}
	requestPhrases  = []string{"can you", "could you", "please review", "ptal", "any update", "status?"}
	closingMarkers  = []string{"closes #", "fixes #", "resolved #"}
	followUpAfter   = 24 * time.Hour
	summarizeLength = 10
)

// DeriveLabel applies the labeling rules to a thread sorted by timestamp.
// Rules are tried in order and the first match wins:
//
//  1. The newest non-self event asks for something: urgent keywords give
//     reply_urgent, a question or request phrase gives reply. Only that one
//     event is examined; older events are never consulted, so an urgent ask
//     that already got a reply does not fire again.
//  2. The newest event is not from self and is older than 24h: follow_up.
//  3. The thread has at least 10 events, or any event closes an issue: summarize.
//
// The second return value is false when no rule matches.
func DeriveLabel(history []types.Event, now time.Time) (types.Action, bool) {
	if len(history) == 0 {
		return "", false
	}

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSelf() {
			continue
		}
		if action, ok := cue(history[i].Text); ok {
			return action, true
		}
		break
	}

	last := history[len(history)-1]
	if !last.IsSelf() && now.Sub(last.Timestamp) > followUpAfter {
		return types.ActionFollowUp, true
	}

	if len(history) >= summarizeLength {
		return types.ActionSummarize, true
	}
	for _, ev := range history {
		if containsAny(strings.ToLower(ev.Text), closingMarkers) {
			return types.ActionSummarize, true
		}
	}
	return "", false
}

func cue(text string) (types.Action, bool) {
	t := strings.ToLower(text)
	if containsAny(t, urgentKeywords) {
		return types.ActionReplyUrgent, true
	}
	if strings.Contains(t, "?") || containsAny(t, requestPhrases) {
		return types.ActionReply, true
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
