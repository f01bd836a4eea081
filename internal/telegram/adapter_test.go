package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/state"
	"github.com/user/shadowshift/internal/types"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type fakePoller struct {
	stats poller.Stats
	err   error
	runs  int
}

func (p *fakePoller) RunOnce(context.Context) (poller.Stats, error) {
	p.runs++
	return p.stats, p.err
}

func (p *fakePoller) LastRunStats() poller.Stats { return p.stats }

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, p Poller) (*Adapter, *fakeSender, *state.SuggestionStore) {
	t.Helper()
	bot := &fakeSender{}
	store := state.NewSuggestionStore(t.TempDir())
	a := newAdapter(bot, 42, p, store, nil)
	a.now = func() time.Time { return now }
	return a, bot, store
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	long := strings.Repeat("é", 3000)
	for _, part := range splitMessage(long) {
		if !strings.HasPrefix(part, "é") || !strings.HasSuffix(part, "é") {
			t.Fatalf("part split a rune: %q...", part[:4])
		}
	}
}

func TestNotify(t *testing.T) {
	a, bot, _ := newTestAdapter(t, &fakePoller{})
	err := a.Notify(context.Background(), &types.Suggestion{
		Source:     types.SourceMail,
		ThreadID:   "t1",
		Action:     types.ActionReplyUrgent,
		Confidence: 0.83,
		Subject:    "Re: outage",
		Body:       "Looking now.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d", msg.ChatID)
	}
	want := "[mail:t1] reply_urgent 83%\nSubject: Re: outage\n\nLooking now."
	if msg.Text != want {
		t.Errorf("text = %q, want %q", msg.Text, want)
	}
}

func TestNotifySendError(t *testing.T) {
	a, bot, _ := newTestAdapter(t, &fakePoller{})
	bot.err = errors.New("forbidden")
	if err := a.Notify(context.Background(), &types.Suggestion{Source: types.SourceChat, ThreadID: "c"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestReplyStatus(t *testing.T) {
	p := &fakePoller{stats: poller.Stats{Status: poller.StatusIdle}}
	a, _, _ := newTestAdapter(t, p)

	if got := a.reply(context.Background(), "status", ""); got != "No poll has run yet." {
		t.Errorf("idle status = %q", got)
	}

	p.stats = poller.Stats{
		RunID:      "r1",
		Status:     poller.StatusCompletedWithErrors,
		StartedAt:  now.Add(-2 * time.Minute),
		FinishedAt: now.Add(-2*time.Minute + 1500*time.Millisecond),
		Found:      map[types.Source]int{types.SourceMail: 0, types.SourceChat: 3},
		Drafted:    3,
		Errors:     []string{"mail:fetch:401"},
	}
	got := a.reply(context.Background(), "status", "")
	for _, want := range []string{"Run r1: completed_with_errors", "2 minutes ago", "took 1.5s", "chat: 3 found", "Drafted: 3", "- mail:fetch:401"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q in:\n%s", want, got)
		}
	}
}

func TestReplyPollBusy(t *testing.T) {
	p := &fakePoller{err: types.ErrCycleInProgress}
	a, _, _ := newTestAdapter(t, p)

	if got := a.reply(context.Background(), "poll", ""); got != "A poll cycle is already running." {
		t.Errorf("reply = %q", got)
	}
	if p.runs != 1 {
		t.Errorf("runs = %d", p.runs)
	}
}

func TestReplyInbox(t *testing.T) {
	a, _, store := newTestAdapter(t, &fakePoller{})
	ctx := context.Background()

	if got := a.reply(ctx, "inbox", ""); got != "Inbox is empty." {
		t.Errorf("empty inbox = %q", got)
	}

	sug := &types.Suggestion{Source: types.SourceVCS, ThreadID: "org/repo", Body: "x", CreatedAt: now.Add(-time.Hour)}
	if err := store.Append(ctx, sug); err != nil {
		t.Fatal(err)
	}

	got := a.reply(ctx, "inbox", "github")
	if got != "• vcs:org/repo draft (1 hour ago)" {
		t.Errorf("inbox = %q", got)
	}
	if got := a.reply(ctx, "inbox", "fax"); got != "Unknown source: fax" {
		t.Errorf("bad source reply = %q", got)
	}
}

func TestHandleCommandIgnoresOtherChats(t *testing.T) {
	a, bot, _ := newTestAdapter(t, &fakePoller{})
	a.handleCommand(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 7},
		Text:     "/status",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 7}},
	})
	if len(bot.sent) != 0 {
		t.Errorf("expected no reply, got %d", len(bot.sent))
	}
}

func TestParseChatID(t *testing.T) {
	id, err := ParseChatID(" 12345 ")
	if err != nil || id != 12345 {
		t.Errorf("ParseChatID = %d, %v", id, err)
	}
	if _, err := ParseChatID("abc"); err == nil {
		t.Error("expected error")
	}
}
