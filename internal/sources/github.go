// internal/sources/github.go
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

// GitHubConfig lists repositories ("owner/name") to read commits from.
type GitHubConfig struct {
	Token string
	Repos []string
	// LimitPerRepo caps commits per repository. Defaults to 30.
	LimitPerRepo int
	// NewerThan drops commits older than this. Defaults to 24h.
	NewerThan time.Duration
	APIBase   string
}

// Enabled reports whether a token and at least one repository are configured.
func (c GitHubConfig) Enabled() bool {
	return c.Token != "" && len(c.Repos) > 0
}

// GitHub fetches recent commits. Each repository is one thread.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewGitHub creates a GitHub source.
func NewGitHub(cfg GitHubConfig, logger *zap.Logger) *GitHub {
	if cfg.LimitPerRepo <= 0 {
		cfg.LimitPerRepo = 30
	}
	if cfg.NewerThan <= 0 {
		cfg.NewerThan = 24 * time.Hour
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.github.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHub{cfg: cfg, client: newHTTPClient(15 * time.Second), logger: logger, now: time.Now}
}

func (g *GitHub) Kind() types.Source { return types.SourceVCS }

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// Fetch reads each repository in turn. A repository that fails is logged and
// skipped; the fetch fails only when every repository fails.
func (g *GitHub) Fetch(ctx context.Context) ([]normalize.Record, error) {
	cutoff := g.now().Add(-g.cfg.NewerThan)

	var (
		out     []normalize.Record
		lastErr error
		failed  int
	)
	for _, repo := range g.cfg.Repos {
		commits, err := g.commits(ctx, repo)
		if err != nil {
			g.logger.Warn("github repo fetch failed", zap.String("repo", repo), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		if len(commits) > g.cfg.LimitPerRepo {
			commits = commits[:g.cfg.LimitPerRepo]
		}
		for _, c := range commits {
			if ts, err := time.Parse(time.RFC3339, c.Commit.Author.Date); err == nil && ts.Before(cutoff) {
				continue
			}
			author := c.Commit.Author.Name
			if author == "" {
				author = "unknown"
			}
			out = append(out, normalize.VCSRecord{
				SHA:        c.SHA,
				Repo:       repo,
				AuthorName: author,
				Message:    c.Commit.Message,
				Date:       c.Commit.Author.Date,
			})
		}
	}
	if failed > 0 && failed == len(g.cfg.Repos) {
		return nil, fmt.Errorf("all %d repos failed: %w", failed, lastErr)
	}
	return out, nil
}

func (g *GitHub) commits(ctx context.Context, repo string) ([]githubCommit, error) {
	u := fmt.Sprintf("%s/repos/%s/commits?per_page=%d", g.cfg.APIBase, repo, g.cfg.LimitPerRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+g.cfg.Token)

	var commits []githubCommit
	if err := doJSON(g.client, req, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}
