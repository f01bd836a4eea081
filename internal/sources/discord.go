// internal/sources/discord.go
package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

// DiscordConfig lists the channels to read with a bot token.
type DiscordConfig struct {
	BotToken   string
	ChannelIDs []string
	// Limit is the number of messages per channel. Defaults to 20.
	Limit int
	// NewerThan drops messages older than this. Zero keeps everything.
	NewerThan time.Duration
	APIBase   string
}

// Enabled reports whether a token and at least one channel are configured.
func (c DiscordConfig) Enabled() bool {
	return c.BotToken != "" && len(c.ChannelIDs) > 0
}

// Discord fetches recent channel messages from the Discord REST API.
type Discord struct {
	cfg    DiscordConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewDiscord creates a Discord source.
func NewDiscord(cfg DiscordConfig, logger *zap.Logger) *Discord {
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://discord.com/api/v10"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{cfg: cfg, client: newHTTPClient(10 * time.Second), logger: logger, now: time.Now}
}

func (d *Discord) Kind() types.Source { return types.SourceChat }

type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

// Fetch reads each channel in turn. A channel that fails is logged and
// skipped; the fetch fails only when every channel fails.
func (d *Discord) Fetch(ctx context.Context) ([]normalize.Record, error) {
	var cutoff time.Time
	if d.cfg.NewerThan > 0 {
		cutoff = d.now().Add(-d.cfg.NewerThan)
	}

	var (
		out     []normalize.Record
		lastErr error
		failed  int
	)
	for _, cid := range d.cfg.ChannelIDs {
		msgs, err := d.channel(ctx, cid)
		if err != nil {
			d.logger.Warn("discord channel fetch failed", zap.String("channel", cid), zap.Error(err))
			lastErr = err
			failed++
			continue
		}
		for _, m := range msgs {
			if !cutoff.IsZero() {
				if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil && ts.Before(cutoff) {
					continue
				}
			}
			channel := m.ChannelID
			if channel == "" {
				channel = cid
			}
			author := m.Author.Username
			if author == "" {
				author = "unknown"
			}
			out = append(out, normalize.ChatRecord{
				ID:        m.ID,
				ChannelID: channel,
				Author:    author,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}
	}
	if failed > 0 && failed == len(d.cfg.ChannelIDs) {
		return nil, fmt.Errorf("all %d channels failed: %w", failed, lastErr)
	}
	return out, nil
}

func (d *Discord) channel(ctx context.Context, id string) ([]discordMessage, error) {
	u := fmt.Sprintf("%s/channels/%s/messages?limit=%s", d.cfg.APIBase, url.PathEscape(id), strconv.Itoa(d.cfg.Limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.BotToken)

	var msgs []discordMessage
	if err := doJSON(d.client, req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
