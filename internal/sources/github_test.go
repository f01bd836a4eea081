// internal/sources/github_test.go
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

func commit(sha, msg, name, date string) map[string]any {
	return map[string]any{
		"sha": sha,
		"commit": map[string]any{
			"message": msg,
			"author":  map[string]string{"name": name, "date": date},
		},
	}
}

func TestGitHubFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/org/app/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token gh", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]any{
			commit("a1", "fixes #3", "dev", "2025-01-01T10:00:00Z"),
			commit("a2", "old work", "dev", "2024-11-01T10:00:00Z"),
			commit("a3", "tidy", "", "2025-01-01T09:00:00Z"),
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGitHub(GitHubConfig{Token: "gh", Repos: []string{"org/app"}, APIBase: srv.URL, LimitPerRepo: 30}, nil)
	g.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }

	records, err := g.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0].(normalize.VCSRecord)
	assert.Equal(t, "org/app", first.Repo)
	assert.Equal(t, "a1", first.SHA)
	assert.Equal(t, "unknown", records[1].(normalize.VCSRecord).AuthorName)
}

func TestGitHubAllReposFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	g := NewGitHub(GitHubConfig{Token: "gh", Repos: []string{"org/missing"}, APIBase: srv.URL}, nil)
	_, err := g.Fetch(context.Background())
	require.Error(t, err)
}
