// internal/dataset/build_test.go
package dataset

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

const sampleEvents = `
{"id":"1","source":"gmail","thread_id":"T1","actor":"alice","text":"kickoff","timestamp":"2025-06-10T08:00:00Z"}
{"id":"2","source":"gmail","thread_id":"T1","actor":"you","text":"thanks","timestamp":"2025-06-10T08:10:00Z"}
{"id":"a","source":"discord","thread_id":"T2","actor":"bob","text":"hey","timestamp":"2025-06-10T09:00:00Z"}
{"id":"3","source":"discord","thread_id":"T1","actor":"alice","text":"can you send the deck by EOD?","timestamp":"2025-06-10T08:20:00Z"}
{"id":"4","source":"gmail","thread_id":"T1","actor":"you","text":"sent","timestamp":"2025-06-10T08:30:00Z"}
{"id":"b","source":"discord","thread_id":"T2","actor":"you","text":"hi","timestamp":"2025-06-10T09:01:00Z"}
`

func TestBuildFromJSONL(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(sampleEvents), "")
	require.NoError(t, err)
	require.Len(t, records, 6)

	events := normalize.New(nil).NormalizeAll(records)
	rows, err := Build(events, 5, now)
	require.NoError(t, err)

	// T1 has prefixes 3 and 4, both with the urgent ask as newest non-self event.
	// T2 has only two events and produces nothing.
	require.Len(t, rows, 2)
	assert.Equal(t, "T1-3", rows[0].ID)
	assert.Equal(t, "T1-4", rows[1].ID)
	for _, r := range rows {
		assert.Equal(t, types.ActionReplyUrgent, r.Action)
		assert.Equal(t, "T1", r.ThreadID)
	}
	assert.True(t, strings.HasPrefix(rows[1].State, "[Thread: T1 | Sources: chat, mail]"))
	assert.Equal(t, time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC), rows[1].Timestamp)
}

func TestBuildSkipsShortThreads(t *testing.T) {
	events := []types.Event{
		ev("a", "urgent?", time.Minute),
		ev("a", "urgent?", time.Second),
	}
	rows, err := Build(events, 5, now)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadRecordsRejectsBadLine(t *testing.T) {
	_, err := ReadRecords(strings.NewReader("{\"id\":1,\"source\":\"vcs\"}\nnot json\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadRecordsRequiresSource(t *testing.T) {
	in := `{"id":"1","source":"mail","thread_id":"T1","text":"hi"}

{"id":"2","thread_id":"T1","text":"no source"}
`
	_, err := ReadRecords(strings.NewReader(in), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "source", ve.Field)

	records, err := ReadRecords(strings.NewReader(in), types.SourceChat)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, types.SourceMail, records[0].Kind())
	assert.Equal(t, types.SourceChat, records[1].Kind())
}
