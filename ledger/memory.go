package ledger

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process ledger used by tests and the CLI preview.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory { return &Memory{} }

// Record appends one event.
func (m *Memory) Record(_ context.Context, model string, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Model: model, Success: success, OccurredAt: at})
	return nil
}

// Events returns a copy of all recorded events in append order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// SuccessRates mirrors Store.SuccessRates.
func (m *Memory) SuccessRates(context.Context) (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, st := range m.tally() {
		rates[st.Model] = float64(st.Successes) / float64(st.Total)
	}
	return rates, nil
}

// Stats mirrors Store.Stats.
func (m *Memory) Stats(context.Context) ([]ModelStats, error) {
	out := m.tally()
	for i := range out {
		out[i].Rate = math.Round(float64(out[i].Successes)*10000/float64(out[i].Total)) / 100
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rate != out[j].Rate {
			return out[i].Rate > out[j].Rate
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

func (m *Memory) tally() []ModelStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := make(map[string]int)
	var out []ModelStats
	for _, e := range m.events {
		i, ok := idx[e.Model]
		if !ok {
			i = len(out)
			idx[e.Model] = i
			out = append(out, ModelStats{Model: e.Model})
		}
		out[i].Total++
		if e.Success {
			out[i].Successes++
		}
	}
	return out
}
