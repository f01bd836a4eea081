// internal/draft/draft.go
package draft

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/types"
	"github.com/user/shadowshift/pkg/llm"
)

// OfflineModel is reported for canned drafts.
const OfflineModel = "offline"

// Default word limits.
const (
	DefaultEmailWords   = 180
	DefaultMessageWords = 120
	PollWords           = 140
	MaxMessageWords     = 300
)

const (
	emailSystemPrompt = "You draft email replies for ShadowShift. The input is a serialized conversation state. " +
		"Return only a strict JSON object with the keys subject and body, and nothing else."
	messageSystemPrompt = "You draft chat and code review replies for ShadowShift. The input is a serialized conversation state. " +
		"Return only a strict JSON object with the key body, and nothing else."
)

// Options shape a draft. Zero values take the defaults.
type Options struct {
	Recipient string `json:"recipient,omitempty"`
	Style     string `json:"style,omitempty"`
	Tone      string `json:"tone,omitempty"`
	Language  string `json:"language,omitempty"`
	MaxWords  int    `json:"max_words,omitempty"`
}

func (o Options) withDefaults(maxWords int) Options {
	if o.Style == "" {
		o.Style = "concise"
	}
	if o.Tone == "" {
		o.Tone = "professional"
	}
	if o.Language == "" {
		o.Language = "en"
	}
	if o.MaxWords <= 0 {
		o.MaxWords = maxWords
	}
	return o
}

// Result is a drafted reply.
type Result struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Model   string `json:"model"`
}

// Drafter turns states into reply drafts through an LLM provider. A Drafter
// without a provider returns canned offline drafts.
type Drafter struct {
	provider llm.Provider
	retry    *RetryPolicy
	budget   *Budget
	logger   *zap.Logger
}

// Option configures a Drafter.
type Option func(*Drafter)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(d *Drafter) { d.retry = p }
}

// WithBudget trims states before prompting.
func WithBudget(b *Budget) Option {
	return func(d *Drafter) { d.budget = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Drafter) { d.logger = l }
}

// New creates a Drafter. A nil provider selects offline mode.
func New(provider llm.Provider, opts ...Option) *Drafter {
	d := &Drafter{
		provider: provider,
		retry:    DefaultRetryPolicy(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Offline reports whether the drafter returns canned drafts.
func (d *Drafter) Offline() bool { return d.provider == nil }

// Draft writes an email draft for mail threads and a message draft otherwise.
func (d *Drafter) Draft(ctx context.Context, state string, source types.Source, opts Options) (Result, error) {
	if source == types.SourceMail {
		return d.DraftEmail(ctx, state, opts)
	}
	return d.DraftMessage(ctx, state, source, opts)
}

// DraftEmail returns a subject and body.
func (d *Drafter) DraftEmail(ctx context.Context, state string, opts Options) (Result, error) {
	if d.Offline() {
		return Result{Subject: "Draft reply", Body: "Hi,\n\nOn it.\n\nShadowShift", Model: OfflineModel}, nil
	}
	opts = opts.withDefaults(DefaultEmailWords)
	recipient := opts.Recipient
	if recipient == "" {
		recipient = "unknown"
	}
	user := fmt.Sprintf("Language: %s\nStyle: %s | Tone: %s | Max words: %d\nRecipient: %s\n\nSTATE:\n%s\n\nReturn JSON:\n{\"subject\": \"...\", \"body\": \"...\"}",
		opts.Language, opts.Style, opts.Tone, opts.MaxWords, recipient, d.budget.Trim(state))

	content, model, err := d.complete(ctx, emailSystemPrompt, user)
	if err != nil {
		return Result{}, err
	}
	data, ok := extractJSON(content)
	if !ok {
		body := content
		if body == "" {
			body = "Hi,\n\nThanks,\n"
		}
		return Result{Subject: "Draft", Body: body, Model: model}, nil
	}
	return Result{
		Subject: stringValue(data, "subject"),
		Body:    stringValue(data, "body"),
		Model:   model,
	}, nil
}

// DraftMessage returns a body only.
func (d *Drafter) DraftMessage(ctx context.Context, state string, source types.Source, opts Options) (Result, error) {
	if d.Offline() {
		return Result{Body: "Acknowledged. I'll follow up soon.", Model: OfflineModel}, nil
	}
	opts = opts.withDefaults(DefaultMessageWords)
	user := fmt.Sprintf("Platform: %s | Tone: %s | Language: %s | Max words: %d\n\nSTATE:\n%s\n\nReturn JSON:\n{\"body\": \"...\"}",
		platformName(source), opts.Tone, opts.Language, opts.MaxWords, d.budget.Trim(state))

	content, model, err := d.complete(ctx, messageSystemPrompt, user)
	if err != nil {
		return Result{}, err
	}
	body := content
	if data, ok := extractJSON(content); ok {
		body = stringValue(data, "body", "text")
	}
	return Result{Body: strings.TrimSpace(body), Model: model}, nil
}

func (d *Drafter) complete(ctx context.Context, system, user string) (string, string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	var resp *llm.Response
	attempt := 0
	err := d.retry.Execute(ctx, func(ctx context.Context) error {
		attempt++
		r, err := d.provider.Complete(ctx, messages)
		if err != nil {
			d.logger.Debug("completion failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("draft: %w", err)
	}
	model := resp.Model
	if model == "" {
		model = d.provider.Model()
	}
	return strings.TrimSpace(resp.Content), model, nil
}

func platformName(source types.Source) string {
	switch source {
	case types.SourceChat:
		return "discord"
	case types.SourceVCS:
		return "github"
	default:
		return string(source)
	}
}
