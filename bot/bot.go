// Package bot adapts Twitch chat to the dispatch engine. It routes parsed commands,
// renders read-only views (history, stats, help, ping) and delivers replies.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/yuka/command"
	"github.com/onnwee/yuka/dispatch"
	"github.com/onnwee/yuka/history"
	"github.com/onnwee/yuka/ledger"
	"github.com/onnwee/yuka/ratelimit"
	"github.com/onnwee/yuka/telemetry"
)

// Greeting is sent to the notify channel once connected.
const Greeting = "✅ Hi everyone! Yuka is ready to help 🚀"

// Chat sends messages to a channel. *twitch.Client satisfies it.
type Chat interface {
	Say(channel, text string)
	Reply(channel, parentMsgID, text string)
}

// Dispatcher answers submits.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request, r dispatch.Replier) (dispatch.Result, error)
}

// Conversations is the part of the conversation store the bot reads and clears.
type Conversations interface {
	Recent(ctx context.Context, userID string, limit int) ([]history.Turn, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

// StatsSource reports per-model usage.
type StatsSource interface {
	Stats(ctx context.Context) ([]ledger.ModelStats, error)
}

// Candidates lists the configured models for shuffled orderings.
type Candidates interface {
	Candidates() []string
}

// Message is one inbound chat line.
type Message struct {
	ID      string
	Channel string
	UserID  string
	Login   string
	Text    string
	SentAt  time.Time

	// Reply parent, empty when the message is not a reply.
	ParentID    string
	ParentLogin string
	ParentBody  string
}

// Bot routes chat messages. Collaborators are required except Limiter.
type Bot struct {
	Login         string
	Channel       string
	NotifyChannel string
	Parser        *command.Parser
	Engine        Dispatcher
	History       Conversations
	Stats         StatsSource
	Models        Candidates
	Limiter       ratelimit.Limiter
	MaxChars      int
	Now           func() time.Time

	mu   sync.RWMutex
	chat Chat
	sent *sentIndex
}

// SetChat installs the outbound chat connection.
func (b *Bot) SetChat(c Chat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chat = c
}

func (b *Bot) getChat() Chat {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.chat
}

func (b *Bot) index() *sentIndex {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent == nil {
		b.sent = newSentIndex(defaultSentIndexSize)
	}
	return b.sent
}

func (b *Bot) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Announce posts text to the notify channel. It satisfies selector.Notifier.
func (b *Bot) Announce(_ context.Context, text string) error {
	chat := b.getChat()
	if chat == nil {
		return errors.New("chat not connected")
	}
	for _, c := range dispatch.Chunk(strings.ReplaceAll(text, "\n", " | "), b.MaxChars) {
		if c = flatten(c); c != "" {
			chat.Say(b.NotifyChannel, c)
		}
	}
	return nil
}

// HandleMessage processes one chat line. It blocks until any dispatch completes.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	if strings.EqualFold(msg.Login, b.Login) {
		return
	}
	chat := b.getChat()
	if chat == nil {
		return
	}
	text := msg.Text
	// Twitch prefixes replies with "@parent ".
	if msg.ParentLogin != "" {
		text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "@"+msg.ParentLogin))
	}
	cmd := b.Parser.Parse(text)
	if cmd == nil {
		return
	}
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("user", msg.Login), slog.String("command", cmd.Kind()))
	telemetry.ObserveCommand(cmd.Kind())
	reply := func(s string) { b.reply(chat, msg, s) }

	switch c := cmd.(type) {
	case command.Submit:
		b.submit(ctx, log, chat, msg, c)
	case command.ShowHistory:
		turns, err := b.History.Recent(ctx, msg.UserID, HistoryShown)
		if err != nil {
			log.Error("history read failed", slog.Any("err", err))
			reply("❌ Could not load your history right now.")
			return
		}
		reply(FormatHistory(turns))
	case command.ClearHistory:
		n, err := b.History.Clear(ctx, msg.UserID)
		if err != nil {
			log.Error("history clear failed", slog.Any("err", err))
			reply("❌ Could not clear your history right now.")
			return
		}
		log.Info("history cleared", slog.Int64("turns", n))
		reply("🗑️ All of your chat history has been deleted!")
	case command.ShowStats:
		stats, err := b.Stats.Stats(ctx)
		if err != nil {
			log.Error("stats read failed", slog.Any("err", err))
			reply("❌ Could not load model stats right now.")
			return
		}
		reply(FormatStats(stats))
	case command.Help:
		reply(HelpText(b.Parser))
	case command.Ping:
		reply(FormatPing(b.now().Sub(msg.SentAt)))
	case command.Invalid:
		reply(c.Reason)
	}
}

func (b *Bot) submit(ctx context.Context, log *slog.Logger, chat Chat, msg Message, s command.Submit) {
	if b.Limiter != nil {
		ok, err := b.Limiter.Allow(ctx, "submit:"+msg.UserID)
		if err != nil {
			log.Warn("limiter unavailable, allowing", slog.Any("err", err))
		} else if !ok {
			telemetry.ObserveSubmitLimited()
			b.reply(chat, msg, "⏳ You're asking too fast. Please wait a moment and try again.")
			return
		}
	}
	req := dispatch.Request{
		Prompt:     s.Prompt,
		UserID:     msg.UserID,
		Credential: s.Credential.Key,
		Reply:      b.replyRef(msg),
	}
	if s.Randomize && b.Models != nil {
		req.Ordering = command.ShuffleOrder(b.Models.Candidates(), nil)
	}
	r := &chatReplier{chat: chat, channel: msg.Channel, parentID: msg.ID}
	log.Info("dispatching", slog.String("api", s.Credential.Label), slog.Bool("randomized", s.Randomize))
	res, err := b.Engine.Handle(ctx, req, r)
	if err != nil {
		log.Error("dispatch failed", slog.Any("err", err))
		return
	}
	if res.Model != "" {
		idx := b.index()
		for _, t := range r.sent {
			idx.put(t, res.Content)
		}
	}
}

// replyRef resolves a reply to one of the bot's own answers.
func (b *Bot) replyRef(msg Message) *dispatch.ReplyRef {
	if msg.ParentID == "" || !strings.EqualFold(msg.ParentLogin, b.Login) {
		return nil
	}
	if text, ok := b.index().get(msg.ParentBody); ok {
		return &dispatch.ReplyRef{MessageID: msg.ParentID, Text: text, FromBot: true}
	}
	// Unknown line (restart or evicted): match the delivered text against flattened answers.
	return &dispatch.ReplyRef{MessageID: msg.ParentID, Text: stripHeader(msg.ParentBody), FromBot: true, Flattened: true}
}

// reply sends text as threaded replies, chunked to the line limit.
func (b *Bot) reply(chat Chat, msg Message, text string) {
	for _, c := range dispatch.Chunk(flatten(text), b.MaxChars) {
		if c = strings.TrimSpace(c); c != "" {
			chat.Reply(msg.Channel, msg.ID, c)
		}
	}
}

// chatReplier threads dispatch output under the user's message. IRC has no edit,
// so Replace posts a new reply after the placeholder.
type chatReplier struct {
	chat     Chat
	channel  string
	parentID string
	sent     []string
}

// Lines that flatten to nothing are dropped; IRC rejects empty messages.
func (r *chatReplier) Placeholder(_ context.Context, text string) error {
	if t := flatten(text); t != "" {
		r.chat.Reply(r.channel, r.parentID, t)
	}
	return nil
}

func (r *chatReplier) Replace(_ context.Context, text string) error {
	if t := flatten(text); t != "" {
		r.chat.Reply(r.channel, r.parentID, t)
		r.sent = append(r.sent, t)
	}
	return nil
}

func (r *chatReplier) Send(_ context.Context, text string) error {
	if t := flatten(text); t != "" {
		r.chat.Say(r.channel, t)
		r.sent = append(r.sent, t)
	}
	return nil
}

// flatten makes text fit a single IRC line.
func flatten(s string) string {
	return strings.TrimSpace(history.Flatten(s))
}

// stripHeader removes the model attribution from a flattened answer.
func stripHeader(body string) string {
	const prefix = "✅ Model: "
	if !strings.HasPrefix(body, prefix) {
		return body
	}
	rest := body[len(prefix):]
	if i := strings.Index(rest, "  "); i >= 0 {
		return strings.TrimSpace(rest[i:])
	}
	return body
}
