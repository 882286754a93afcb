package streetrace

import (
	"sync"
	"time"
)

// EventType categorizes run stream events.
type EventType string

const (
	// EventRunStarted opens every run stream.
	EventRunStarted EventType = "run_started"

	// EventAgentStarted marks the start of an agent invocation.
	EventAgentStarted EventType = "agent_started"

	// EventIntermediate carries incremental backend output (a text
	// delta or a progress note). Backends emit these as they are
	// produced; the runtime forwards them immediately, never buffering
	// the whole stream before yielding.
	EventIntermediate EventType = "intermediate"

	// EventFinal carries the complete text of one backend invocation.
	EventFinal EventType = "final"

	// EventRetry marks a schema-validation retry of an agent call.
	EventRetry EventType = "retry"

	// EventEscalated marks dispatch to the human-escalation channel.
	EventEscalated EventType = "escalated"

	// EventRunFinished closes every run stream.
	EventRunFinished EventType = "run_finished"

	// EventError carries a failure. Terminal when emitted by the run.
	EventError EventType = "error"
)

// Event is one entry in a run's ordered event stream. Backends populate
// Type, Delta, and Content; the runtime adds run-level fields as it
// forwards them.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Agent   string    `json:"agent,omitempty"`
	Flow    string    `json:"flow,omitempty"`
	Delta   string    `json:"delta,omitempty"`
	Content string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Err     string    `json:"error,omitempty"`
	Time    time.Time `json:"time,omitzero"`
}

// Intermediate builds an intermediate backend event.
func Intermediate(delta string) Event {
	return Event{Type: EventIntermediate, Delta: delta, Time: time.Now()}
}

// Final builds a final backend event carrying the complete response text.
func Final(content string) Event {
	return Event{Type: EventFinal, Content: content, Time: time.Now()}
}

// RunStream is the ordered event stream of one workflow run. Events are
// forwarded as they are produced; the final result and error become
// available once the stream is done.
type RunStream struct {
	events chan Event
	result Value
	err    error
	done   chan struct{}
	mu     sync.RWMutex
}

// defaultStreamBuffer bounds the event channel so a slow consumer applies
// backpressure instead of forcing unbounded buffering.
const defaultStreamBuffer = 64

func newRunStream() *RunStream {
	return &RunStream{
		events: make(chan Event, defaultStreamBuffer),
		result: Null,
		done:   make(chan struct{}),
	}
}

// Events returns the channel of run events. It is closed when the run
// completes, fails, or is cancelled.
func (s *RunStream) Events() <-chan Event {
	return s.events
}

// Result blocks until the run is done and returns the final value and any
// error.
func (s *RunStream) Result() (Value, error) {
	<-s.done
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.err
}

// Done returns a channel closed when the run completes.
func (s *RunStream) Done() <-chan struct{} {
	return s.done
}

func (s *RunStream) finish(result Value, err error) {
	s.mu.Lock()
	if result != nil {
		s.result = result
	}
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}
