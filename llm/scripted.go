package llm

import (
	"context"
	"fmt"
	"sync"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

// Scripted is an in-memory streetrace.Backend that replays canned responses
// in order. It serves tests and offline runs: every Invoke consumes the
// next response regardless of input, and invoking past the script's end is
// an error event.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int
	calls     []streetrace.Call
}

// NewScripted creates a backend that replays the given responses in order.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Invoke implements streetrace.Backend.
func (s *Scripted) Invoke(ctx context.Context, call streetrace.Call) (<-chan streetrace.Event, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	var response string
	exhausted := s.next >= len(s.responses)
	if !exhausted {
		response = s.responses[s.next]
		s.next++
	}
	s.mu.Unlock()

	events := make(chan streetrace.Event, 2)
	go func() {
		defer close(events)
		select {
		case <-ctx.Done():
			events <- streetrace.Event{Type: streetrace.EventError, Err: ctx.Err().Error()}
			return
		default:
		}
		if exhausted {
			events <- streetrace.Event{
				Type: streetrace.EventError,
				Err:  fmt.Sprintf("scripted backend exhausted after %d responses", len(s.responses)),
			}
			return
		}
		events <- streetrace.Final(response)
	}()
	return events, nil
}

// Calls returns every call the backend received, in order.
func (s *Scripted) Calls() []streetrace.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streetrace.Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Invoke was called.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
