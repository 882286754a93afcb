package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

func TestStripVendor(t *testing.T) {
	tests := []struct{ in, want string }{
		{"anthropic/claude-sonnet-4", "claude-sonnet-4"},
		{"claude-sonnet-4", "claude-sonnet-4"},
		{"openai/gpt-4.1", "gpt-4.1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripVendor(tt.in); got != tt.want {
			t.Errorf("stripVendor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	a := NewAnthropic(WithAPIKey("test"), WithMaxTokens(512))
	call := streetrace.Call{
		Model:       "anthropic/claude-sonnet-4",
		Instruction: "You are a judge.",
		Messages: []streetrace.Message{
			{Role: streetrace.RoleSystem, Content: "Always respond with JSON."},
			{Role: streetrace.RoleUser, Content: "judge this"},
			{Role: streetrace.RoleAssistant, Content: "{}"},
		},
		Tools: []streetrace.ToolHandle{{Name: "web_search", Description: "Search"}},
	}
	req := a.buildRequest(call)

	if req.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxTokens != 512 || !req.Stream {
		t.Errorf("max_tokens = %d, stream = %v", req.MaxTokens, req.Stream)
	}
	// Extra system turns fold into the single system string.
	if req.System != "You are a judge.\n\nAlways respond with JSON." {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", req.Messages[0].Role, req.Messages[1].Role)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "web_search" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestRetryAfterDelay(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("retry-after", "7")
	if got := retryAfterDelay(resp, 0); got != 7*time.Second {
		t.Errorf("header delay = %v, want 7s", got)
	}

	resp.Header.Del("retry-after")
	if got := retryAfterDelay(resp, 0); got != 5*time.Second {
		t.Errorf("attempt 0 delay = %v, want 5s", got)
	}
	if got := retryAfterDelay(resp, 2); got != 20*time.Second {
		t.Errorf("attempt 2 delay = %v, want 20s", got)
	}
	if got := retryAfterDelay(resp, 10); got != 60*time.Second {
		t.Errorf("delay not capped: %v", got)
	}
}

func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeStreamsDeltas(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "claude-sonnet-4" {
			t.Errorf("model = %q", req.Model)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hello", ", ", "world"} {
			fmt.Fprintf(w, "event: content_block_delta\n")
			fmt.Fprintf(w, "data: {\"delta\": {\"type\": \"text_delta\", \"text\": %q}}\n\n", text)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
	})

	a := NewAnthropic(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	events, err := a.Invoke(context.Background(), streetrace.Call{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []streetrace.Message{{Role: streetrace.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	var deltas []string
	final := ""
	for ev := range events {
		switch ev.Type {
		case streetrace.EventIntermediate:
			deltas = append(deltas, ev.Delta)
		case streetrace.EventFinal:
			final = ev.Content
		case streetrace.EventError:
			t.Fatalf("error event: %s", ev.Err)
		}
	}
	if len(deltas) != 3 {
		t.Errorf("deltas = %v, want 3", deltas)
	}
	if final != "Hello, world" {
		t.Errorf("final = %q", final)
	}
}

func TestInvokeStreamError(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: error\ndata: {\"error\": {\"message\": \"overloaded\"}}\n\n")
	})

	a := NewAnthropic(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	events, err := a.Invoke(context.Background(), streetrace.Call{Model: "m"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	sawError := false
	for ev := range events {
		if ev.Type == streetrace.EventError && strings.Contains(ev.Err, "overloaded") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("stream error was not surfaced")
	}
}

func TestInvokeRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("retry-after", "1")
			w.WriteHeader(429)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"delta\": {\"type\": \"text_delta\", \"text\": \"ok\"}}\n\n")
	})

	a := NewAnthropic(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	events, err := a.Invoke(context.Background(), streetrace.Call{Model: "m"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	final := ""
	for ev := range events {
		if ev.Type == streetrace.EventFinal {
			final = ev.Content
		}
		if ev.Type == streetrace.EventError {
			t.Fatalf("error event: %s", ev.Err)
		}
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if final != "ok" {
		t.Errorf("final = %q", final)
	}
}

func TestInvokeAPIError(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad request"}}`, 400)
	})

	a := NewAnthropic(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	events, err := a.Invoke(context.Background(), streetrace.Call{Model: "m"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	sawError := false
	for ev := range events {
		if ev.Type == streetrace.EventError && strings.Contains(ev.Err, "400") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("API error was not surfaced")
	}
}

func TestInvokeRequiresKey(t *testing.T) {
	a := NewAnthropic(WithAPIKey(""))
	if _, err := a.Invoke(context.Background(), streetrace.Call{Model: "m"}); err == nil {
		t.Error("empty key did not error")
	}
}

func TestScriptedReplay(t *testing.T) {
	s := NewScripted("first", "second")
	for i, want := range []string{"first", "second"} {
		events, err := s.Invoke(context.Background(), streetrace.Call{Model: "m"})
		if err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
		got := ""
		for ev := range events {
			if ev.Type == streetrace.EventFinal {
				got = ev.Content
			}
		}
		if got != want {
			t.Errorf("response %d = %q, want %q", i, got, want)
		}
	}
	if s.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", s.CallCount())
	}
}

func TestScriptedExhaustion(t *testing.T) {
	s := NewScripted()
	events, err := s.Invoke(context.Background(), streetrace.Call{Model: "m"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	sawError := false
	for ev := range events {
		if ev.Type == streetrace.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("exhausted script did not emit an error event")
	}
}
