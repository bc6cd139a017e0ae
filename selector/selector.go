// Package selector owns the process-wide model priority. The order is a
// cache over the usage ledger: it starts as the configured default and is
// recomputed from historical success rates on demand and on a timer.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/onnwee/yuka/telemetry"
)

// OptimisticRate is the success rate assumed for a model with no recorded
// attempts, so untried models rank ahead of ones that have been failing.
const OptimisticRate = 1.0

// RateSource supplies aggregate success rates per model.
type RateSource interface {
	SuccessRates(ctx context.Context) (map[string]float64, error)
}

// Notifier receives a human-readable announcement when the order changes.
type Notifier interface {
	Announce(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Announce(ctx context.Context, text string) error { return f(ctx, text) }

// Selector holds the current model order.
type Selector struct {
	candidates []string
	rates      RateSource
	notifier   Notifier

	order     atomic.Pointer[[]string]
	refreshMu sync.Mutex
}

// New builds a Selector over the configured candidates, which also serve as
// the initial order. notifier may be nil.
func New(candidates []string, rates RateSource, notifier Notifier) (*Selector, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("selector: no candidate models")
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("selector: duplicate candidate %q", c)
		}
		seen[c] = struct{}{}
	}
	s := &Selector{candidates: slices.Clone(candidates), rates: rates, notifier: notifier}
	initial := slices.Clone(candidates)
	s.order.Store(&initial)
	telemetry.SetModelRanks(initial)
	return s, nil
}

// Candidates returns a copy of the configured candidate set in default order.
func (s *Selector) Candidates() []string { return slices.Clone(s.candidates) }

// Current returns a copy of the order in effect.
func (s *Selector) Current() []string {
	return slices.Clone(*s.order.Load())
}

// Refresh recomputes the order from the rate source. When it differs from the
// held order it is swapped in and announced. Announcement failures are logged only.
func (s *Selector) Refresh(ctx context.Context) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	rates, err := s.rates.SuccessRates(ctx)
	if err != nil {
		return false, fmt.Errorf("refresh model order: %w", err)
	}
	next := Rank(s.candidates, rates)
	if slices.Equal(next, *s.order.Load()) {
		return false, nil
	}
	s.order.Store(&next)
	telemetry.SetModelRanks(next)
	slog.Info("model priority updated", slog.Any("order", next), slog.String("component", "selector"))

	if s.notifier != nil {
		if err := s.notifier.Announce(ctx, FormatAnnouncement(next)); err != nil {
			slog.Warn("model priority announcement failed", slog.Any("err", err), slog.String("component", "selector"))
		}
	}
	return true, nil
}

// Rank sorts candidates by success rate, highest first. Models missing from
// rates count as OptimisticRate; equal rates keep their candidate order.
func Rank(candidates []string, rates map[string]float64) []string {
	out := slices.Clone(candidates)
	rate := func(m string) float64 {
		if r, ok := rates[m]; ok {
			return r
		}
		return OptimisticRate
	}
	sort.SliceStable(out, func(i, j int) bool { return rate(out[i]) > rate(out[j]) })
	return out
}

// FormatAnnouncement renders order as a numbered list for the announcement channel.
func FormatAnnouncement(order []string) string {
	var b strings.Builder
	b.WriteString("🔄 Model priority updated:")
	for i, m := range order {
		fmt.Fprintf(&b, "\n%d. %s", i+1, m)
	}
	return b.String()
}
