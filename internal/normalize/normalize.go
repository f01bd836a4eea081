// internal/normalize/normalize.go
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/user/shadowshift/internal/types"
)

// Normalizer turns provider records into canonical events.
//
// A timestamp that cannot be parsed is replaced by Now(). This keeps one bad
// record from dropping a whole thread, at the cost of possibly misordering it.
type Normalizer struct {
	// SelfAliases are actor names (case-insensitive) that mark the operator.
	// A mail From header matches when it contains "<alias>".
	SelfAliases []string
	// Now supplies the fallback timestamp. Defaults to time.Now.
	Now func() time.Time
}

// New returns a Normalizer with the given self aliases. An empty list means
// only the literal "you" and "self" identify the operator.
func New(selfAliases []string) *Normalizer {
	return &Normalizer{SelfAliases: selfAliases}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC()
	}
	return time.Now().UTC()
}

// Normalize never fails; missing optional fields take their defaults.
func (n *Normalizer) Normalize(r Record) types.Event {
	var ev types.Event
	switch v := r.(type) {
	case MailRecord:
		ev = types.Event{
			ID:       v.ID,
			Source:   types.SourceMail,
			ThreadID: v.ThreadID,
			Actor:    v.From,
			Text:     firstNonEmpty(v.Snippet, v.BodyText),
		}
		if v.InternalDate > 0 {
			ev.Timestamp = time.UnixMilli(v.InternalDate).UTC()
		}
	case ChatRecord:
		ev = types.Event{
			ID:        v.ID,
			Source:    types.SourceChat,
			ThreadID:  v.ChannelID,
			Actor:     v.Author,
			Text:      v.Content,
			Timestamp: n.parseTime(v.Timestamp),
		}
	case VCSRecord:
		ev = types.Event{
			ID:        v.SHA,
			Source:    types.SourceVCS,
			ThreadID:  v.Repo,
			Actor:     v.AuthorName,
			Text:      v.Message,
			Timestamp: n.parseTime(v.Date),
		}
	case GenericRecord:
		ev = n.fromFields(v)
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = n.now()
	}
	ev.Text = strings.TrimSpace(ev.Text)
	ev.Actor = n.resolveActor(ev.Actor)
	if ev.ThreadID == "" {
		ev.ThreadID = SyntheticThreadID(ev.Source, ev.ID)
	}
	return ev
}

// NormalizeAll normalizes records in order.
func (n *Normalizer) NormalizeAll(records []Record) []types.Event {
	out := make([]types.Event, 0, len(records))
	for _, r := range records {
		out = append(out, n.Normalize(r))
	}
	return out
}

// SyntheticThreadID names a thread for a record that carries no thread id.
func SyntheticThreadID(source types.Source, id string) string {
	if id == "" {
		id = "oneoff"
	}
	return string(source) + "-" + id
}

func (n *Normalizer) fromFields(g GenericRecord) types.Event {
	f := g.Fields
	ev := types.Event{
		ID:       stringField(f, "id"),
		Source:   g.Source,
		ThreadID: stringField(f, "thread_id"),
	}

	if v, ok := lookup(f, "actor", "author"); ok {
		ev.Actor = toString(v)
	}
	if v, ok := lookup(f, "text", "snippet"); ok {
		ev.Text = toString(v)
	}
	if v, ok := lookup(f, "timestamp", "ts"); ok {
		ev.Timestamp = n.coerceTime(v)
	}
	return ev
}

// lookup returns the first present, non-nil key.
func lookup(f map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (n *Normalizer) coerceTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		return n.parseTime(t)
	case float64:
		return fromEpoch(t)
	case int64:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return fromEpoch(f)
		}
	}
	return n.now()
}

func (n *Normalizer) parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return n.now()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return n.now()
	}
	return t.UTC()
}

// fromEpoch treats values above 1e12 as milliseconds, otherwise seconds.
func fromEpoch(f float64) time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	if math.Abs(f) > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func (n *Normalizer) resolveActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return types.OtherActor
	}
	lower := strings.ToLower(actor)
	if lower == types.SelfActor || lower == "you" {
		return types.SelfActor
	}
	for _, alias := range n.SelfAliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		if lower == a || strings.Contains(lower, "<"+a+">") {
			return types.SelfActor
		}
	}
	return actor
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
