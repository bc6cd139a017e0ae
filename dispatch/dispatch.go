// Package dispatch answers one user prompt by walking an ordered list of upstream models.
//
// Each model gets up to AttemptsPerModel tries. A 429 waits on an exponential schedule
// (2s, 4s, 8s) and retries the same model; any other failure is recorded in the usage ledger
// and the next model is tried. The first success is recorded and returned.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/onnwee/yuka/history"
	"github.com/onnwee/yuka/openrouter"
	"github.com/onnwee/yuka/telemetry"
)

const (
	// AttemptsPerModel bounds the tries for one model while it keeps answering 429.
	AttemptsPerModel = 4
	// InitialBackoff is the wait before the second attempt; it doubles before each later one.
	InitialBackoff = 2 * time.Second

	ThinkingMessage  = "⏳ Yuka is thinking..."
	NoAnswerMessage  = "⚠️ No answer."
	ExhaustedMessage = "❌ All models are busy right now. Please try again later."
	CanceledMessage  = "⚠️ Yuka stopped before answering. Please ask again in a moment."
	DefaultPersona   = "You are Yuka, a polite and informative AI assistant who always refers to herself as Yuka."
)

// ErrExhausted means no model in the ordering produced an answer.
var ErrExhausted = errors.New("all models exhausted")

// Completer performs a single upstream completion call.
type Completer interface {
	Complete(ctx context.Context, model string, messages []openrouter.Message, apiKey string) (openrouter.Completion, error)
}

// Ledger receives one usage event per decisive attempt outcome.
type Ledger interface {
	Record(ctx context.Context, model string, success bool, at time.Time) error
}

// Conversations is the subset of the conversation store used while dispatching.
type Conversations interface {
	Recent(ctx context.Context, userID string, limit int) ([]history.Turn, error)
	FindByResponse(ctx context.Context, text string) (*history.Turn, error)
	FindByFlattened(ctx context.Context, text string) (*history.Turn, error)
	Append(ctx context.Context, turn history.Turn) (bool, error)
}

// OrderSource supplies the default model ordering.
type OrderSource interface {
	Current() []string
}

// ReplyRef describes the message a user replied to, as reported by the chat platform.
type ReplyRef struct {
	MessageID string
	Text      string
	// FromBot is true when the referenced message was sent by this bot.
	FromBot bool
	// Flattened marks Text as one delivered chat line (line breaks turned into
	// spaces, possibly one chunk of the answer) rather than the stored response.
	Flattened bool
}

// Request is one prompt submission.
type Request struct {
	Prompt string
	UserID string
	Reply  *ReplyRef
	// Credential is the upstream API key used for every attempt of this dispatch.
	Credential string
	// Ordering overrides the selector's current order when non-empty.
	Ordering []string
}

// Result is a successful answer.
type Result struct {
	Content string
	Model   string
}

// Settings are the tunables of an Engine.
type Settings struct {
	SystemPrompt   string
	HistoryCount   int
	TrimChars      int
	MaxOutputChars int
	AttemptTimeout time.Duration
}

// Engine runs dispatches. Fields other than the collaborators are optional.
type Engine struct {
	Upstream Completer
	Ledger   Ledger
	History  Conversations
	Orders   OrderSource
	Settings Settings

	// Sleep waits between rate-limited attempts; it must return early with ctx.Err() on cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now stamps ledger events and turns.
	Now func() time.Time
}

// New builds an Engine with default sleeping and clock.
func New(up Completer, led Ledger, conv Conversations, orders OrderSource, s Settings) *Engine {
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultPersona
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 30 * time.Second
	}
	return &Engine{Upstream: up, Ledger: led, History: conv, Orders: orders, Settings: s}
}

// NewBackOff returns the per-model delay schedule: 2s, 4s, 8s, ... without jitter.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// BuildMessages assembles the persona, recent history, the replied-to turn and the new prompt.
// Lookup failures are logged and degrade to less context.
func (e *Engine) BuildMessages(ctx context.Context, req Request) []openrouter.Message {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))
	var turns []history.Turn
	if e.History != nil && e.Settings.HistoryCount > 0 {
		recent, err := e.History.Recent(ctx, req.UserID, e.Settings.HistoryCount)
		if err != nil {
			log.Warn("history lookup failed", slog.Any("err", err))
		} else {
			turns = recent
		}
		if req.Reply != nil && req.Reply.FromBot && req.Reply.Text != "" {
			find := e.History.FindByResponse
			if req.Reply.Flattened {
				find = e.History.FindByFlattened
			}
			parent, err := find(ctx, req.Reply.Text)
			switch {
			case err != nil:
				log.Warn("reply lookup failed", slog.String("message_id", req.Reply.MessageID), slog.Any("err", err))
			case parent != nil:
				turns = append(turns, *parent)
			default:
				log.Info("replied-to answer not found in history", slog.String("message_id", req.Reply.MessageID))
			}
		}
	}

	msgs := make([]openrouter.Message, 0, 2*len(turns)+2)
	msgs = append(msgs, openrouter.Message{Role: "system", Content: e.Settings.SystemPrompt})
	for _, t := range turns {
		msgs = append(msgs,
			openrouter.Message{Role: "user", Content: lastRunes(t.Prompt, e.Settings.TrimChars)},
			openrouter.Message{Role: "assistant", Content: lastRunes(t.Response, e.Settings.TrimChars)},
		)
	}
	return append(msgs, openrouter.Message{Role: "user", Content: req.Prompt})
}

type state int

const (
	stateNextModel state = iota
	stateAttempting
	stateBackoff
	stateSuccess
	stateExhausted
)

// Dispatch runs the attempt loop and returns the first successful answer or ErrExhausted.
// A cancelled ctx stops the loop between or during attempts and returns ctx.Err().
func (e *Engine) Dispatch(ctx context.Context, req Request) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "yuka-dispatch", "dispatch")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))

	order := req.Ordering
	if len(order) == 0 && e.Orders != nil {
		order = e.Orders.Current()
	}
	msgs := e.BuildMessages(ctx, req)

	var (
		st      = stateNextModel
		next    int
		model   string
		attempt int
		bo      backoff.BackOff
		delay   time.Duration
		res     Result
	)
	for {
		switch st {
		case stateNextModel:
			if next >= len(order) {
				st = stateExhausted
				continue
			}
			model, attempt, bo = order[next], 0, NewBackOff()
			next++
			st = stateAttempting

		case stateAttempting:
			attempt++
			comp, err := e.attempt(ctx, model, msgs, req.Credential)
			if err == nil {
				content := comp.Content
				if !comp.HasContent {
					content = NoAnswerMessage
				}
				telemetry.ObserveAttempt(model, "success")
				e.record(ctx, model, true)
				res = Result{Content: content, Model: model}
				st = stateSuccess
				continue
			}
			if ctx.Err() != nil {
				telemetry.RecordError(span, ctx.Err())
				return Result{}, ctx.Err()
			}
			class := ClassifyUpstreamError(err)
			if class == ErrorClassRateLimited {
				telemetry.ObserveAttempt(model, "rate_limited")
				if attempt >= AttemptsPerModel {
					log.Warn("model rate limited, moving on", slog.String("model", model), slog.Int("attempts", attempt))
					telemetry.ObserveModelExhausted(model)
					st = stateNextModel
					continue
				}
				delay = bo.NextBackOff()
				log.Info("model rate limited, backing off", slog.String("model", model), slog.Int("attempt", attempt), slog.Duration("delay", delay))
				st = stateBackoff
				continue
			}
			log.Warn("model attempt failed", slog.String("model", model), slog.String("class", class.String()), slog.Any("err", err))
			telemetry.ObserveAttempt(model, "failure")
			e.record(ctx, model, false)
			st = stateNextModel

		case stateBackoff:
			if err := e.sleep(ctx, delay); err != nil {
				telemetry.RecordError(span, err)
				return Result{}, err
			}
			st = stateAttempting

		case stateSuccess:
			telemetry.SetSpanSuccess(span)
			return res, nil

		case stateExhausted:
			telemetry.RecordError(span, ErrExhausted)
			return Result{}, ErrExhausted
		}
	}
}

func (e *Engine) attempt(ctx context.Context, model string, msgs []openrouter.Message, key string) (openrouter.Completion, error) {
	ctx, span := telemetry.StartSpan(ctx, "yuka-dispatch", "attempt", telemetry.ModelAttr(model))
	defer span.End()
	if e.Settings.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Settings.AttemptTimeout)
		defer cancel()
	}
	comp, err := e.Upstream.Complete(ctx, model, msgs, key)
	if err != nil {
		telemetry.RecordError(span, err)
		return comp, err
	}
	telemetry.SetSpanSuccess(span)
	return comp, nil
}

// record writes a usage event; failures never reach the user.
func (e *Engine) record(ctx context.Context, model string, success bool) {
	if e.Ledger == nil {
		return
	}
	if err := e.Ledger.Record(ctx, model, success, e.now()); err != nil {
		telemetry.ObserveBookkeepingError("ledger")
		telemetry.LoggerWithCorr(ctx).Warn("ledger write failed", slog.String("component", "dispatch"), slog.String("model", model), slog.Any("err", err))
	}
}

// Replier delivers dispatch output to the user.
type Replier interface {
	// Placeholder sends the interim message later superseded by Replace.
	Placeholder(ctx context.Context, text string) error
	// Replace supersedes the placeholder with text.
	Replace(ctx context.Context, text string) error
	// Send posts a follow-up message.
	Send(ctx context.Context, text string) error
}

// Handle runs one dispatch end to end: placeholder, attempts, chunked reply, persistence.
// Exhaustion produces exactly one user-visible message and returns a zero Result with a nil error.
// Cancellation also replaces the placeholder with one message, then returns the context error.
func (e *Engine) Handle(ctx context.Context, req Request, r Replier) (Result, error) {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"), slog.String("user", req.UserID))
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, errors.New("empty prompt")
	}
	if err := r.Placeholder(ctx, ThinkingMessage); err != nil {
		log.Warn("placeholder send failed", slog.Any("err", err))
	}

	start := time.Now()
	res, err := e.Dispatch(ctx, req)
	switch {
	case errors.Is(err, ErrExhausted):
		telemetry.ObserveDispatch("exhausted", time.Since(start))
		log.Warn("dispatch exhausted")
		return Result{}, r.Replace(ctx, ExhaustedMessage)
	case err != nil:
		telemetry.ObserveDispatch("canceled", time.Since(start))
		// The placeholder is already out; close it even though ctx is done.
		if rerr := r.Replace(context.WithoutCancel(ctx), CanceledMessage); rerr != nil {
			log.Warn("cancel notice send failed", slog.Any("err", rerr))
		}
		return Result{}, fmt.Errorf("dispatch: %w", err)
	}
	telemetry.ObserveDispatch("success", time.Since(start))
	log.Info("dispatch answered", slog.String("model", res.Model), slog.Duration("took", time.Since(start)))

	chunks := Chunk(FormatResult(res), e.Settings.MaxOutputChars)
	if err := r.Replace(ctx, chunks[0]); err != nil {
		return res, fmt.Errorf("send reply: %w", err)
	}
	for _, c := range chunks[1:] {
		if err := r.Send(ctx, c); err != nil {
			return res, fmt.Errorf("send reply: %w", err)
		}
	}

	if e.History != nil {
		stored, err := e.History.Append(ctx, history.Turn{
			UserID: req.UserID, Prompt: req.Prompt, Response: res.Content, Model: res.Model, CreatedAt: e.now(),
		})
		switch {
		case err != nil:
			telemetry.ObserveBookkeepingError("history")
			log.Warn("history append failed", slog.Any("err", err))
		case !stored:
			log.Info("response too large to keep in history", slog.Int("chars", len([]rune(res.Content))))
		}
	}
	return res, nil
}

// FormatResult renders the model attribution header followed by the content.
func FormatResult(res Result) string {
	return fmt.Sprintf("✅ Model: %s\n\n%s", res.Model, res.Content)
}

// Chunk splits text into consecutive pieces of at most limit characters.
// A non-positive limit returns text whole. It always returns at least one element.
func Chunk(text string, limit int) []string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return []string{text}
	}
	out := make([]string, 0, (len(r)+limit-1)/limit)
	for i := 0; i < len(r); i += limit {
		end := min(i+limit, len(r))
		out = append(out, string(r[i:end]))
	}
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
