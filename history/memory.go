package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process conversation store with the same contract as Store.
type Memory struct {
	MaxResponse int

	mu    sync.Mutex
	turns []Turn
}

// NewMemory returns an empty in-memory store.
func NewMemory(maxResponse int) *Memory {
	if maxResponse <= 0 {
		maxResponse = DefaultMaxResponse
	}
	return &Memory{MaxResponse: maxResponse}
}

func (m *Memory) Append(_ context.Context, turn Turn) (bool, error) {
	if !Fits(turn.Response, m.MaxResponse) {
		return false, nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return true, nil
}

func (m *Memory) Recent(_ context.Context, userID string, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Turn
	for i := len(m.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.turns[i].UserID == userID {
			out = append(out, m.turns[i])
		}
	}
	reverse(out)
	return out, nil
}

func (m *Memory) FindByResponse(_ context.Context, text string) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.turns {
		if t.Response == text {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindByFlattened(_ context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.turns {
		if strings.Contains(Flatten(t.Response), text) {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) Clear(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.turns[:0]
	var removed int64
	for _, t := range m.turns {
		if t.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.turns = kept
	return removed, nil
}
