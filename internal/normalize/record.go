// internal/normalize/record.go
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/shadowshift/internal/types"
)

// Record is a raw provider payload. The set of implementations is closed;
// nothing outside this package produces a Record that Normalize does not know.
type Record interface {
	Kind() types.Source
	record()
}

// MailRecord is one message from a mail provider.
type MailRecord struct {
	ID           string `json:"id"`
	ThreadID     string `json:"thread_id"`
	From         string `json:"from"`
	Subject      string `json:"subject"`
	Snippet      string `json:"snippet"`
	BodyText     string `json:"body_text"`
	InternalDate int64  `json:"internal_date"` // epoch ms
}

// ChatRecord is one channel message from a chat provider.
type ChatRecord struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// VCSRecord is one commit from a version control host.
type VCSRecord struct {
	SHA        string `json:"sha"`
	Repo       string `json:"repo"`
	AuthorName string `json:"author_name"`
	Message    string `json:"message"`
	Date       string `json:"date"`
}

// GenericRecord carries loosely keyed fields, as found in dataset files and
// API payloads.
type GenericRecord struct {
	Source types.Source
	Fields map[string]any
}

func (MailRecord) Kind() types.Source      { return types.SourceMail }
func (ChatRecord) Kind() types.Source      { return types.SourceChat }
func (VCSRecord) Kind() types.Source       { return types.SourceVCS }
func (g GenericRecord) Kind() types.Source { return g.Source }

func (MailRecord) record()    {}
func (ChatRecord) record()    {}
func (VCSRecord) record()     {}
func (GenericRecord) record() {}

// ThreadKey returns the provider thread id of r, or "" when r has none.
func ThreadKey(r Record) string {
	switch v := r.(type) {
	case MailRecord:
		return v.ThreadID
	case ChatRecord:
		return v.ChannelID
	case VCSRecord:
		return v.Repo
	case GenericRecord:
		return stringField(v.Fields, "thread_id")
	}
	return ""
}

// RecordID returns the provider id of r, or "" when r has none.
func RecordID(r Record) string {
	switch v := r.(type) {
	case MailRecord:
		return v.ID
	case ChatRecord:
		return v.ID
	case VCSRecord:
		return v.SHA
	case GenericRecord:
		return stringField(v.Fields, "id")
	}
	return ""
}

// MarshalJSON flattens the generic fields and keeps the source alongside them.
func (g GenericRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.Fields)+1)
	for k, v := range g.Fields {
		out[k] = v
	}
	if g.Source != "" {
		out["source"] = string(g.Source)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads an arbitrary object. A "source" field, when present,
// must name a known source.
func (g *GenericRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	g.Fields = fields
	if raw, ok := fields["source"].(string); ok && raw != "" {
		src, err := types.ParseSource(raw)
		if err != nil {
			return err
		}
		g.Source = src
	}
	return nil
}

// ParseGeneric decodes one JSON line into a GenericRecord.
func ParseGeneric(line []byte) (GenericRecord, error) {
	var g GenericRecord
	if err := json.Unmarshal(line, &g); err != nil {
		return GenericRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return g, nil
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	return toString(v)
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(s)
	}
}
