package generation

import (
	"context"
	"strings"
	"sync"
)

// Stream is a one-pass sequence of events for one exchange.
type Stream struct {
	exchange *exchange
	events   chan Event
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	partial strings.Builder
}

// Events is closed after the terminal event, or early when the stream is
// cancelled.
func (s *Stream) Events() <-chan Event { return s.events }

// Close stops generation if it is still running and waits for every
// background goroutine to exit. It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

func (s *Stream) State() State { return s.exchange.State() }

// Partial returns the text streamed so far.
func (s *Stream) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial.String()
}

func (s *Stream) appendPartial(token string) {
	s.mu.Lock()
	s.partial.WriteString(token)
	s.mu.Unlock()
}

func (s *Stream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
