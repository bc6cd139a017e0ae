package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// UpstreamReply is one scripted response of the mock completion endpoint.
type UpstreamReply struct {
	Status  int
	Content string
	// Raw, when set, is written verbatim instead of a chat completion body.
	Raw string
}

// MockUpstream is a test server speaking the chat completions protocol.
// Replies are scripted per model and consumed in order; the last reply repeats.
type MockUpstream struct {
	*httptest.Server

	mu      sync.Mutex
	scripts map[string][]UpstreamReply
	calls   []UpstreamCall
}

// UpstreamCall records one request received by the mock.
type UpstreamCall struct {
	Model         string
	Authorization string
	Messages      []map[string]string
}

// NewMockUpstream starts a mock completion server that is closed on test cleanup.
func NewMockUpstream(t *testing.T) *MockUpstream {
	t.Helper()
	m := &MockUpstream{scripts: make(map[string][]UpstreamReply)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// Script sets the replies for model.
func (m *MockUpstream) Script(model string, replies ...UpstreamReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[model] = replies
}

// Calls returns a copy of the requests received so far.
func (m *MockUpstream) Calls() []UpstreamCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpstreamCall(nil), m.calls...)
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.calls = append(m.calls, UpstreamCall{Model: body.Model, Authorization: r.Header.Get("Authorization"), Messages: body.Messages})
	replies := m.scripts[body.Model]
	reply := UpstreamReply{Status: http.StatusNotFound}
	if len(replies) > 0 {
		reply = replies[0]
		if len(replies) > 1 {
			m.scripts[body.Model] = replies[1:]
		}
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.WriteHeader(reply.Status)
	if reply.Raw != "" {
		_, _ = w.Write([]byte(reply.Raw))
		return
	}
	if reply.Status >= 300 {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": reply.Status, "message": http.StatusText(reply.Status)}}) //nolint:errcheck // test mock response
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": reply.Content}},
		},
	})
}
