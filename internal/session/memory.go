package session

import "sync"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Memory keeps the most recent 2*window turns. The oldest turn is evicted
// first once the buffer is full.
type Memory struct {
	mu     sync.Mutex
	window int
	buf    []Turn
	start  int
	size   int
}

func NewMemory(window int) *Memory {
	if window <= 0 {
		window = 1
	}
	return &Memory{window: window, buf: make([]Turn, 2*window)}
}

func (m *Memory) WindowSize() int { return m.window }

// Append adds turns in order under one lock, so a user/assistant pair is
// never interleaved with another writer.
func (m *Memory) Append(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range turns {
		end := (m.start + m.size) % len(m.buf)
		m.buf[end] = t
		if m.size < len(m.buf) {
			m.size++
		} else {
			m.start = (m.start + 1) % len(m.buf)
		}
	}
}

// Turns returns a copy, oldest first.
func (m *Memory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, m.size)
	for i := 0; i < m.size; i++ {
		out[i] = m.buf[(m.start+i)%len(m.buf)]
	}
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.buf {
		m.buf[i] = Turn{}
	}
	m.start, m.size = 0, 0
}
