package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/yuka/command"
	"github.com/onnwee/yuka/history"
	"github.com/onnwee/yuka/ledger"
)

const (
	// HistoryShown is how many turns ?history displays.
	HistoryShown = 5
	// barSegments is the width of the stats bar; each segment is 5%.
	barSegments = 20
	// previewChars caps each prompt and answer in the history view.
	previewChars = 120
)

// FormatHistory renders turns newest first. turns arrive oldest first, as Recent returns them.
func FormatHistory(turns []history.Turn) string {
	if len(turns) == 0 {
		return "No history yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🕒 Your last %d chats:", len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		fmt.Fprintf(&sb, " | Q: %s A: %s (%s)", preview(t.Prompt), preview(t.Response), t.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return sb.String()
}

// StatsBar draws a 20-segment bar for a percentage in [0, 100].
func StatsBar(rate float64) string {
	filled := int(math.Round(rate / 5))
	filled = min(max(filled, 0), barSegments)
	return strings.Repeat("█", filled) + strings.Repeat("░", barSegments-filled)
}

// FormatStats renders one entry per model in the given order.
func FormatStats(stats []ledger.ModelStats) string {
	if len(stats) == 0 {
		return "📊 No model usage data yet."
	}
	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		parts = append(parts, fmt.Sprintf("✅ %s [%s] %s%% (%d/%d)", s.Model, StatsBar(s.Rate), strconv.FormatFloat(s.Rate, 'f', -1, 64), s.Successes, s.Total))
	}
	return "📊 Model stats: " + strings.Join(parts, " | ")
}

// HelpText lists the commands understood by p.
func HelpText(p *command.Parser) string {
	names := make([]string, 0, len(p.Credentials))
	for _, c := range p.Credentials {
		names = append(names, p.Prefix+c.Name)
	}
	lines := []string{"📖 Yuka commands:"}
	if len(names) > 0 {
		lines = append(lines, strings.Join(names, " / ")+" <question> ask using that API")
	}
	lines = append(lines,
		p.Prefix+p.Name+" <question> ask using any API",
		p.Prefix+"history show your recent chats",
		p.Prefix+"clearhistory delete your chat history",
		p.Prefix+"stats model success rates",
		p.Prefix+"ping check bot latency",
		p.Prefix+"help show this list",
	)
	return lines[0] + " " + strings.Join(lines[1:], " | ")
}

// FormatPing renders the latency between the user's message and now.
func FormatPing(latency time.Duration) string {
	return fmt.Sprintf("🏓 Pong! Latency: %dms", max(latency.Milliseconds(), 0))
}

func preview(s string) string {
	s = flatten(s)
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars-1]) + "…"
}
