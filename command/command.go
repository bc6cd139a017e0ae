// Package command turns raw chat text into a closed set of command variants.
package command

import (
	"math/rand"
	"strings"

	"github.com/onnwee/yuka/config"
)

// Command is one parsed chat command. The concrete types below are the only implementations.
type Command interface {
	Kind() string
}

// Submit asks for a dispatch.
type Submit struct {
	Prompt     string
	Credential config.Credential
	// APIName is the credential named in the command (e.g. "yuka1"); empty when chosen at random.
	APIName string
	// Randomize requests a shuffled model ordering instead of the adaptive one.
	Randomize bool
}

type (
	ShowHistory  struct{}
	ClearHistory struct{}
	ShowStats    struct{}
	Help         struct{}
	Ping         struct{}
)

// Invalid is a recognised command that cannot run; Reason is shown to the user.
type Invalid struct {
	Reason string
}

func (Submit) Kind() string       { return "submit" }
func (ShowHistory) Kind() string  { return "history" }
func (ClearHistory) Kind() string { return "clearhistory" }
func (ShowStats) Kind() string    { return "stats" }
func (Help) Kind() string         { return "help" }
func (Ping) Kind() string         { return "ping" }
func (Invalid) Kind() string      { return "invalid" }

// Parser recognises "<prefix><name>[digits] <prompt>" submits and the fixed utility commands.
type Parser struct {
	Prefix      string
	Name        string
	Credentials []config.Credential
	// Randomize is copied into every Submit.
	Randomize bool
	// IntN picks the credential for unnamed submits; defaults to math/rand/v2.
	IntN func(n int) int
}

// NewParser builds a parser from configuration.
func NewParser(cfg *config.Config) *Parser {
	return &Parser{
		Prefix:      cfg.Prefix,
		Name:        strings.ToLower(cfg.CommandName),
		Credentials: cfg.Credentials,
		Randomize:   !cfg.AdaptiveOrder,
	}
}

// Parse returns the command in text, or nil when text is not addressed to the bot.
func (p *Parser) Parse(text string) Command {
	text = strings.TrimSpace(text)
	if p.Prefix == "" || !strings.HasPrefix(text, p.Prefix) {
		return nil
	}
	body := text[len(p.Prefix):]
	switch strings.ToLower(body) {
	case "history":
		return ShowHistory{}
	case "clearhistory":
		return ClearHistory{}
	case "stats":
		return ShowStats{}
	case "help":
		return Help{}
	case "ping":
		return Ping{}
	}

	// The prompt may follow the command word directly: "?yuka1hi", "?yukahello".
	if len(body) < len(p.Name) || !strings.EqualFold(body[:len(p.Name)], p.Name) {
		return nil
	}
	rest := body[len(p.Name):]
	digits := leadingDigits(rest)
	prompt := strings.TrimSpace(rest[len(digits):])
	if digits == "" {
		if prompt == "" {
			return Invalid{Reason: "❌ Write a question after " + p.Prefix + p.Name + "."}
		}
		if len(p.Credentials) == 0 {
			return Invalid{Reason: "❌ No API is configured right now."}
		}
		return Submit{Prompt: prompt, Credential: p.Credentials[p.intN(len(p.Credentials))], Randomize: p.Randomize}
	}
	if prompt == "" {
		return Invalid{Reason: "❌ Write a question after the command."}
	}
	name := p.Name + digits
	for _, c := range p.Credentials {
		if c.Name == name {
			return Submit{Prompt: prompt, Credential: c, APIName: name, Randomize: p.Randomize}
		}
	}
	return Invalid{Reason: "❌ That API is not available for this command."}
}

func (p *Parser) intN(n int) int {
	if p.IntN != nil {
		return p.IntN(n)
	}
	return rand.Intn(n)
}

// ShuffleOrder returns a Fisher-Yates shuffled copy of order. intN(n) must return a value in [0, n).
func ShuffleOrder(order []string, intN func(n int) int) []string {
	if intN == nil {
		intN = rand.Intn
	}
	out := append([]string(nil), order...)
	for i := len(out) - 1; i > 0; i-- {
		j := intN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// leadingDigits returns the ASCII digit run at the start of s.
func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
