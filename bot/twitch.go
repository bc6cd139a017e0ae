package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/yuka/db"
)

// ProviderTwitch is the oauth_tokens key of the bot's chat token.
const ProviderTwitch = "twitch"

// TokenGetter reads a stored token.
type TokenGetter interface {
	Get(ctx context.Context, provider string) (db.Token, error)
}

// ResolveToken prefers the configured token and falls back to the stored one.
func ResolveToken(ctx context.Context, configured string, store TokenGetter) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if store == nil {
		return "", errors.New("no twitch chat token configured")
	}
	tok, err := store.Get(ctx, ProviderTwitch)
	if err != nil {
		return "", fmt.Errorf("load stored twitch token: %w", err)
	}
	if tok.Access == "" {
		return "", errors.New("no twitch chat token: set TWITCH_OAUTH_TOKEN or store one with yukactl token set")
	}
	return tok.Access, nil
}

// ircToken adds the "oauth:" prefix IRC expects.
func ircToken(tok string) string {
	if strings.HasPrefix(tok, "oauth:") {
		return tok
	}
	return "oauth:" + tok
}

// FromPrivateMessage converts an IRC PRIVMSG to a Message.
func FromPrivateMessage(m twitch.PrivateMessage) Message {
	return Message{
		ID:          m.ID,
		Channel:     m.Channel,
		UserID:      m.User.ID,
		Login:       m.User.Name,
		Text:        m.Message,
		SentAt:      m.Time,
		ParentID:    m.Tags["reply-parent-msg-id"],
		ParentLogin: m.Tags["reply-parent-user-login"],
		ParentBody:  m.Tags["reply-parent-msg-body"],
	}
}

// TwitchRunner owns the IRC connection of a Bot.
type TwitchRunner struct {
	Bot *Bot

	mu     sync.Mutex
	client *twitch.Client
}

// UpdateToken swaps the IRC password used on the next reconnect.
func (t *TwitchRunner) UpdateToken(tok string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.SetIRCToken(ircToken(tok))
	}
}

// Run connects, joins the channels and handles messages until ctx is cancelled.
// Each message is handled in its own goroutine.
func (t *TwitchRunner) Run(ctx context.Context, token string) error {
	b := t.Bot
	log := slog.Default().With(slog.String("component", "bot"), slog.String("channel", b.Channel))
	client := twitch.NewClient(b.Login, ircToken(token))
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	b.SetChat(client)

	client.OnConnect(func() {
		log.Info("connected to twitch chat")
		if b.NotifyChannel != "" {
			client.Say(b.NotifyChannel, Greeting)
		}
	})
	client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		go b.HandleMessage(ctx, FromPrivateMessage(m))
	})

	client.Join(b.Channel)
	if b.NotifyChannel != "" && b.NotifyChannel != b.Channel {
		client.Join(b.NotifyChannel)
	}

	go func() {
		<-ctx.Done()
		client.Disconnect()
	}()

	if err := client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return fmt.Errorf("twitch chat: %w", err)
	}
	log.Info("twitch chat stopped")
	return nil
}
