// internal/types/models.go
package types

import (
	"fmt"
	"time"
)

// Source identifies the channel an event came from.
type Source string

const (
	SourceMail Source = "mail"
	SourceChat Source = "chat"
	SourceVCS  Source = "vcs"
)

// AllSources lists the sources in the order a poll cycle processes them.
var AllSources = []Source{SourceMail, SourceChat, SourceVCS}

// ParseSource accepts the canonical names plus the provider names
// (gmail, discord, github).
func ParseSource(s string) (Source, error) {
	switch s {
	case "mail", "gmail", "email":
		return SourceMail, nil
	case "chat", "discord":
		return SourceChat, nil
	case "vcs", "github", "git":
		return SourceVCS, nil
	default:
		return "", &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", s)}
	}
}

// Action is what the operator should do next on a thread.
type Action string

const (
	ActionReply            Action = "reply"
	ActionReplyUrgent      Action = "reply_urgent"
	ActionFollowUp         Action = "follow_up"
	ActionSummarize        Action = "summarize"
	ActionAskClarification Action = "ask_clarification"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionReply, ActionReplyUrgent, ActionFollowUp, ActionSummarize, ActionAskClarification:
		return true
	}
	return false
}

// SelfActor marks events written by the operator.
const SelfActor = "self"

// OtherActor is the default actor when a record carries none.
const OtherActor = "other"

// Event is one message, commit or comment after normalization.
type Event struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	ThreadID  string    `json:"thread_id"`
	Actor     string    `json:"actor"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSelf reports whether the operator wrote the event.
func (e Event) IsSelf() bool {
	return e.Actor == SelfActor
}

// TrainingExample is one labeled state at a thread growth point.
type TrainingExample struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Action    Action    `json:"action"`
	ThreadID  string    `json:"thread_id"`
	Timestamp time.Time `json:"timestamp_utc"`
}

// Prediction is a classifier verdict for one state.
type Prediction struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// Suggestion is a drafted reply produced for one thread during a poll cycle.
type Suggestion struct {
	ID         SuggestionID `json:"id"`
	RunID      RunID        `json:"run_id"`
	Seq        int64        `json:"seq"`
	Source     Source       `json:"source"`
	ThreadID   string       `json:"thread_id"`
	State      string       `json:"state"`
	Action     Action       `json:"action,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Subject    string       `json:"subject,omitempty"`
	Body       string       `json:"body"`
	Model      string       `json:"model"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Key returns the delivery key for the suggestion.
func (s *Suggestion) Key() DeliveryKey {
	return NewDeliveryKey(s.Source, s.ThreadID)
}
