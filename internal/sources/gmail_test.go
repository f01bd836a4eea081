// internal/sources/gmail_test.go
package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/normalize"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func gmailServer(t *testing.T) *httptest.Server {
	t.Helper()
	messages := map[string]map[string]any{
		"m1": {
			"id": "m1", "threadId": "th1", "snippet": "Can you confirm?", "internalDate": "1700000000000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "Alice <alice@example.com>"},
					{"name": "Subject", "value": "Contract"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/html", "body": map[string]string{"data": b64("<p>Can you <b>confirm</b>?</p>")}},
				},
			},
		},
		"m2": {
			"id": "m2", "threadId": "th2", "snippet": "Weekly digest", "internalDate": "1700000001000",
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers":  []map[string]string{{"name": "From", "value": "News <newsletter@shop.com>"}},
				"body":     map[string]string{"data": b64("deals inside")},
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "at"})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		assert.Equal(t, "newer_than:7d -category:promotions", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		msg, ok := messages[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(msg)
	})
	return httptest.NewServer(mux)
}

func TestGmailFetch(t *testing.T) {
	srv := gmailServer(t)
	defer srv.Close()

	g := NewGmail(GmailConfig{
		ClientID: "id", ClientSecret: "secret", RefreshToken: "rt",
		APIBase: srv.URL, TokenURL: srv.URL + "/token",
	})
	records, err := g.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1, "newsletter should be filtered")

	m := records[0].(normalize.MailRecord)
	assert.Equal(t, "th1", m.ThreadID)
	assert.Equal(t, "Alice <alice@example.com>", m.From)
	assert.Equal(t, "Contract", m.Subject)
	assert.Equal(t, int64(1700000000000), m.InternalDate)
	assert.True(t, strings.Contains(m.BodyText, "confirm"), m.BodyText)
}

func TestGmailTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	g := NewGmail(GmailConfig{ClientID: "id", ClientSecret: "s", RefreshToken: "bad", APIBase: srv.URL, TokenURL: srv.URL})
	_, err := g.Fetch(context.Background())
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestIsPromotional(t *testing.T) {
	assert.True(t, isPromotional("a@b.c", "Click to Unsubscribe", ""))
	assert.True(t, isPromotional("No-Reply <no-reply@x.com>", "hi", ""))
	assert.True(t, isPromotional("a@b.c", "hi", "to unsubscribe click here"))
	assert.False(t, isPromotional("bob@x.com", "lunch?", "are you free"))
}

func TestGmailConfigEnabled(t *testing.T) {
	assert.False(t, GmailConfig{ClientID: "x"}.Enabled())
	assert.True(t, GmailConfig{ClientID: "x", ClientSecret: "y", RefreshToken: "z"}.Enabled())
}
