package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/types"
)

const (
	maxTelegramMessage = 4096
	inboxLimit         = 5
	previewRunes       = 280
)

// Poller is the part of the orchestrator the bot drives.
type Poller interface {
	RunOnce(ctx context.Context) (poller.Stats, error)
	LastRunStats() poller.Stats
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter delivers suggestions to the operator's chat and answers a small
// set of commands from that chat.
type Adapter struct {
	bot    sender
	api    *tgbotapi.BotAPI
	chatID int64
	poller Poller
	store  types.SuggestionStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Telegram adapter bound to one operator chat.
func New(token string, chatID int64, p Poller, store types.SuggestionStore, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, chatID, p, store, logger)
	a.api = bot
	return a, nil
}

func newAdapter(bot sender, chatID int64, p Poller, store types.SuggestionStore, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		bot:    bot,
		chatID: chatID,
		poller: p,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins long-polling for Telegram updates. It blocks until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	if a.api == nil {
		<-ctx.Done()
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			a.handleCommand(ctx, update.Message)
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

// Notify sends a suggestion to the operator chat.
func (a *Adapter) Notify(_ context.Context, s *types.Suggestion) error {
	for _, part := range splitMessage(formatSuggestion(s)) {
		if _, err := a.bot.Send(tgbotapi.NewMessage(a.chatID, part)); err != nil {
			return fmt.Errorf("send suggestion: %w", err)
		}
	}
	return nil
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if chatID != a.chatID {
		a.logger.Warn("ignoring command from unknown chat", zap.Int64("chat_id", chatID))
		return
	}
	a.sendResponse(chatID, a.reply(ctx, msg.Command(), msg.CommandArguments()))
}

// reply renders the response to one command.
func (a *Adapter) reply(ctx context.Context, command, args string) string {
	switch command {
	case "start":
		return "ShadowShift is watching your threads. Available: /status, /poll, /inbox [mail|chat|vcs]"

	case "status":
		return formatStats(a.poller.LastRunStats(), a.now())

	case "poll":
		stats, err := a.poller.RunOnce(ctx)
		if errors.Is(err, types.ErrCycleInProgress) {
			return "A poll cycle is already running."
		}
		if err != nil {
			return "Poll failed: " + err.Error()
		}
		return formatStats(stats, a.now())

	case "inbox":
		return a.inbox(ctx, strings.TrimSpace(args))

	default:
		return "Unknown command. Available: /start, /status, /poll, /inbox"
	}
}

func (a *Adapter) inbox(ctx context.Context, arg string) string {
	srcs := types.AllSources
	if arg != "" {
		src, err := types.ParseSource(arg)
		if err != nil {
			return "Unknown source: " + arg
		}
		srcs = []types.Source{src}
	}

	var b strings.Builder
	for _, src := range srcs {
		items, err := a.store.Tail(ctx, src, inboxLimit)
		if err != nil {
			a.logger.Error("read inbox", zap.String("source", string(src)), zap.Error(err))
			return "Error reading inbox."
		}
		for _, s := range items {
			fmt.Fprintf(&b, "• %s %s (%s)\n", s.Key(), actionLabel(s), humanize.RelTime(s.CreatedAt, a.now(), "ago", "from now"))
		}
	}
	if b.Len() == 0 {
		return "Inbox is empty."
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			a.logger.Error("send message", zap.Error(err))
		}
	}
}

func formatSuggestion(s *types.Suggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", s.Key(), actionLabel(s))
	if s.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", s.Subject)
	}
	b.WriteString("\n")
	b.WriteString(s.Body)
	return b.String()
}

func actionLabel(s *types.Suggestion) string {
	if s.Action == "" {
		return "draft"
	}
	return fmt.Sprintf("%s %.0f%%", s.Action, s.Confidence*100)
}

func formatStats(s poller.Stats, now time.Time) string {
	if s.Status == poller.StatusIdle {
		return "No poll has run yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", s.RunID, s.Status)
	fmt.Fprintf(&b, "Started %s", humanize.RelTime(s.StartedAt, now, "ago", "from now"))
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(&b, ", took %s", d.Round(time.Millisecond))
	}
	b.WriteString("\n")
	for _, src := range types.AllSources {
		if n, ok := s.Found[src]; ok {
			fmt.Fprintf(&b, "%s: %d found\n", src, n)
		}
	}
	fmt.Fprintf(&b, "Drafted: %d", s.Drafted)
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):", len(s.Errors))
		for _, e := range s.Errors {
			b.WriteString("\n- " + truncate(e, previewRunes))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// splitMessage cuts text into Telegram-sized parts without splitting a rune.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

// ParseChatID parses a configured chat id.
func ParseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &types.ValidationError{Field: "telegram.chat_id", Reason: "must be an integer"}
	}
	return id, nil
}
