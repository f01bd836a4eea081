// internal/sources/gmail.go
package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/types"
)

// GmailConfig holds refresh-token credentials and query settings.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Query defaults to "newer_than:7d".
	Query string
	// Limit caps the number of messages per fetch. Defaults to 5.
	Limit             int
	IncludePromotions bool
	// APIBase and TokenURL override the Google endpoints.
	APIBase  string
	TokenURL string
}

// Enabled reports whether all credentials are present.
func (c GmailConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Gmail fetches recent messages from the Gmail REST API.
type Gmail struct {
	cfg    GmailConfig
	client *http.Client
}

// NewGmail creates a Gmail source.
func NewGmail(cfg GmailConfig) *Gmail {
	if cfg.Query == "" {
		cfg.Query = "newer_than:7d"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://gmail.googleapis.com"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://oauth2.googleapis.com/token"
	}
	return &Gmail{cfg: cfg, client: newHTTPClient(20 * time.Second)}
}

func (g *Gmail) Kind() types.Source { return types.SourceMail }

type gmailToken struct {
	AccessToken string `json:"access_token"`
}

type gmailList struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

type gmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	Snippet      string    `json:"snippet"`
	InternalDate string    `json:"internalDate"`
	Payload      gmailPart `json:"payload"`
}

// Fetch lists matching messages and loads each in full. Promotional mail is
// dropped unless IncludePromotions is set.
func (g *Gmail) Fetch(ctx context.Context) ([]normalize.Record, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	q := g.cfg.Query
	if !g.cfg.IncludePromotions {
		q += " -category:promotions"
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", strconv.Itoa(g.cfg.Limit))

	var list gmailList
	if err := g.get(ctx, token, "/gmail/v1/users/me/messages?"+params.Encode(), &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var out []normalize.Record
	for _, m := range list.Messages {
		var msg gmailMessage
		if err := g.get(ctx, token, "/gmail/v1/users/me/messages/"+url.PathEscape(m.ID)+"?format=full", &msg); err != nil {
			return nil, fmt.Errorf("get message %s: %w", m.ID, err)
		}

		from := header(msg.Payload, "From")
		subject := header(msg.Payload, "Subject")
		text, html := bodies(msg.Payload)
		if text == "" && html != "" {
			text = htmlToText(html)
		}
		if !g.cfg.IncludePromotions && isPromotional(from, subject, text+" "+html) {
			continue
		}

		ms, _ := strconv.ParseInt(msg.InternalDate, 10, 64)
		threadID := msg.ThreadID
		if threadID == "" {
			threadID = msg.ID
		}
		out = append(out, normalize.MailRecord{
			ID:           msg.ID,
			ThreadID:     threadID,
			From:         from,
			Subject:      subject,
			Snippet:      msg.Snippet,
			BodyText:     text,
			InternalDate: ms,
		})
	}
	return out, nil
}

func (g *Gmail) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)
	form.Set("refresh_token", g.cfg.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok gmailToken
	if err := doJSON(g.client, req, &tok); err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("refresh token: empty access token")
	}
	return tok.AccessToken, nil
}

func (g *Gmail) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIBase+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return doJSON(g.client, req, out)
}

func header(p gmailPart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// bodies walks the MIME tree and concatenates text/plain and text/html parts.
func bodies(p gmailPart) (text, html string) {
	var walk func(gmailPart)
	walk = func(part gmailPart) {
		if part.Body.Data != "" {
			decoded := decodeBase64URL(part.Body.Data)
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain"):
				text += decoded
			case strings.HasPrefix(part.MimeType, "text/html"):
				html += decoded
			}
		}
		for _, sub := range part.Parts {
			walk(sub)
		}
	}
	walk(p)
	return text, html
}

func decodeBase64URL(s string) string {
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return ""
		}
	}
	return string(b)
}

func htmlToText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(md), " ")
}

var noReplySenders = []string{"no-reply", "noreply", "newsletter", "mailer-daemon"}

func isPromotional(from, subject, body string) bool {
	if strings.Contains(strings.ToLower(subject), "unsubscribe") ||
		strings.Contains(strings.ToLower(body), "unsubscribe") {
		return true
	}
	f := strings.ToLower(from)
	for _, s := range noReplySenders {
		if strings.Contains(f, s) {
			return true
		}
	}
	return false
}
