package bot

import (
	"strings"
	"sync"
)

const defaultSentIndexSize = 512

// sentIndex maps recently sent chat lines back to the full answer they belong to.
// Twitch reports only the parent line's body on replies, which is flattened and
// possibly one chunk of a longer answer.
type sentIndex struct {
	mu    sync.Mutex
	size  int
	order []string
	m     map[string]string
}

func newSentIndex(size int) *sentIndex {
	return &sentIndex{size: size, m: make(map[string]string, size)}
}

func (s *sentIndex) put(line, answer string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[line]; !ok {
		s.order = append(s.order, line)
	}
	s.m[line] = answer
	for len(s.order) > s.size {
		delete(s.m, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *sentIndex) get(line string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[strings.TrimSpace(line)]
	return v, ok
}
