package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	streetrace "github.com/streetrace-ai/streetrace-sub005"
)

// Anthropic is a streetrace.Backend speaking the Anthropic Messages API.
// The model is chosen per call from the workflow's resolved model
// identifier; an "anthropic/" vendor prefix is stripped before the request.
type Anthropic struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxTokens  int
	logger     *slog.Logger
}

// AnthropicOption configures the Anthropic backend.
type AnthropicOption func(*Anthropic)

// WithAPIKey sets the API key, overriding the ANTHROPIC_API_KEY environment
// variable.
func WithAPIKey(key string) AnthropicOption {
	return func(a *Anthropic) { a.apiKey = key }
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) AnthropicOption {
	return func(a *Anthropic) { a.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.httpClient = client }
}

// WithMaxTokens sets the per-call output token limit.
func WithMaxTokens(n int) AnthropicOption {
	return func(a *Anthropic) { a.maxTokens = n }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) AnthropicOption {
	return func(a *Anthropic) { a.logger = logger }
}

// Default Anthropic configuration values.
const (
	DefaultTimeout   = 5 * time.Minute
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultMaxTokens = 8192
)

// NewAnthropic creates an Anthropic backend. The API key defaults to the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropic(opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		apiKey:     os.Getenv("ANTHROPIC_API_KEY"),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxTokens:  DefaultMaxTokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	Messages  []anthropicMsg  `json:"messages"`
	System    string          `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens"`
	Tools     []anthropicTool `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Invoke implements streetrace.Backend. It streams the response, emitting
// one intermediate event per text delta and a final event carrying the
// assembled response text, then closes the channel.
func (a *Anthropic) Invoke(ctx context.Context, call streetrace.Call) (<-chan streetrace.Event, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is empty")
	}
	req := a.buildRequest(call)

	events := make(chan streetrace.Event, 16)
	go func() {
		defer close(events)
		a.stream(ctx, req, events)
	}()
	return events, nil
}

// ValidateKey makes a minimal API call to verify the API key works.
func (a *Anthropic) ValidateKey(ctx context.Context, model string) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is empty")
	}
	req := &anthropicRequest{
		Model:     stripVendor(model),
		MaxTokens: 1,
		Messages:  []anthropicMsg{{Role: "user", Content: "hi"}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("could not reach Anthropic API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("invalid API key (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (a *Anthropic) buildRequest(call streetrace.Call) *anthropicRequest {
	req := &anthropicRequest{
		Model:     stripVendor(call.Model),
		MaxTokens: a.maxTokens,
		Stream:    true,
		System:    call.Instruction,
	}
	for _, msg := range call.Messages {
		role := string(msg.Role)
		if msg.Role == streetrace.RoleSystem {
			// The API takes one system string; fold extra system turns
			// into it.
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += msg.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMsg{Role: role, Content: msg.Content})
	}
	for _, t := range call.Tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return req
}

// stream performs the HTTP exchange with bounded retries on rate limiting
// and writes run events to the channel.
func (a *Anthropic) stream(ctx context.Context, req *anthropicRequest, events chan<- streetrace.Event) {
	body, err := json.Marshal(req)
	if err != nil {
		events <- streetrace.Event{Type: streetrace.EventError, Err: err.Error()}
		return
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		httpReq, err := a.newHTTPRequest(ctx, body)
		if err != nil {
			events <- streetrace.Event{Type: streetrace.EventError, Err: err.Error()}
			return
		}
		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			events <- streetrace.Event{Type: streetrace.EventError, Err: err.Error()}
			return
		}

		if resp.StatusCode == http.StatusOK {
			a.parseSSE(ctx, resp.Body, events)
			resp.Body.Close()
			return
		}

		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		// Retry on 429 (rate limit) and 529 (overloaded).
		if (resp.StatusCode == 429 || resp.StatusCode == 529) && attempt < maxAttempts-1 {
			wait := retryAfterDelay(resp, attempt)
			a.logger.Warn("anthropic rate limited, retrying",
				"status", resp.StatusCode, "attempt", attempt+1, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				events <- streetrace.Event{Type: streetrace.EventError, Err: ctx.Err().Error()}
				return
			}
		}

		events <- streetrace.Event{
			Type: streetrace.EventError,
			Err:  fmt.Sprintf("API error %d: %s", resp.StatusCode, string(msg)),
		}
		return
	}
	events <- streetrace.Event{Type: streetrace.EventError, Err: "max retries exceeded"}
}

func (a *Anthropic) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

// parseSSE reads the server-sent event stream, forwarding text deltas as
// intermediate events and emitting one final event with the full text.
func (a *Anthropic) parseSSE(ctx context.Context, r io.Reader, events chan<- streetrace.Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder
	var full strings.Builder

	flush := func() bool {
		defer func() { eventType = ""; data.Reset() }()
		switch eventType {
		case "content_block_delta":
			var delta struct {
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data.String()), &delta); err != nil {
				return true
			}
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				full.WriteString(delta.Delta.Text)
				select {
				case events <- streetrace.Intermediate(delta.Delta.Text):
				case <-ctx.Done():
					return false
				}
			}
		case "error":
			var errResp struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			json.Unmarshal([]byte(data.String()), &errResp)
			events <- streetrace.Event{
				Type: streetrace.EventError,
				Err:  "stream error: " + errResp.Error.Message,
			}
			return false
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "" && eventType != "":
			if !flush() {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		events <- streetrace.Event{Type: streetrace.EventError, Err: err.Error()}
		return
	}
	events <- streetrace.Final(full.String())
}

// retryAfterDelay returns how long to wait before retrying a rate-limited
// request, respecting the retry-after header when present and falling back
// to exponential backoff capped at a minute.
func retryAfterDelay(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	wait := time.Duration(5<<uint(attempt)) * time.Second
	if wait > 60*time.Second {
		wait = 60 * time.Second
	}
	return wait
}

// stripVendor drops the vendor prefix of a qualified model identifier:
// anthropic/claude-sonnet-4 becomes claude-sonnet-4.
func stripVendor(model string) string {
	if i := strings.IndexByte(model, '/'); i >= 0 {
		return model[i+1:]
	}
	return model
}
