// internal/sources/discord_test.go
package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/normalize"
)

func TestDiscordFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot tok", r.Header.Get("Authorization"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "1", "channel_id": "c1", "content": "fresh", "timestamp": "2025-01-01T11:30:00+00:00", "author": map[string]string{"username": "ann"}},
			{"id": "2", "channel_id": "c1", "content": "stale", "timestamp": "2024-12-01T00:00:00+00:00", "author": map[string]string{"username": "ann"}},
		})
	})
	mux.HandleFunc("GET /channels/c2/messages", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing access", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDiscord(DiscordConfig{
		BotToken:   "tok",
		ChannelIDs: []string{"c1", "c2"},
		NewerThan:  time.Hour,
		APIBase:    srv.URL,
	}, nil)
	d.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }

	records, err := d.Fetch(context.Background())
	require.NoError(t, err, "one failing channel is skipped")
	require.Len(t, records, 1)
	rec := records[0].(normalize.ChatRecord)
	assert.Equal(t, "fresh", rec.Content)
	assert.Equal(t, "ann", rec.Author)
	assert.Equal(t, "c1", rec.ChannelID)
}

func TestDiscordAllChannelsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDiscord(DiscordConfig{BotToken: "tok", ChannelIDs: []string{"a", "b"}, APIBase: srv.URL}, nil)
	_, err := d.Fetch(context.Background())
	require.Error(t, err)
}
