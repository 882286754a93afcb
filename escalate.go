package streetrace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Escalator dispatches a message to an external human-review channel.
// Dispatch is fire-and-forget: the runtime does not pause the run waiting
// for a human response. An error means the dispatch itself failed.
type Escalator interface {
	Escalate(ctx context.Context, message string) error
}

// LogEscalator dispatches escalations to the structured log. It is the
// default when no external channel is configured.
type LogEscalator struct {
	Logger *slog.Logger
}

// Escalate logs the message at warn level.
func (e *LogEscalator) Escalate(ctx context.Context, message string) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "escalation", "message", message)
	return nil
}

// WebhookEscalator POSTs escalations as JSON to a configured URL.
type WebhookEscalator struct {
	URL    string
	Client *http.Client
}

// Escalate sends {"message": ...} to the webhook.
func (e *WebhookEscalator) Escalate(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("escalation webhook returned %s", resp.Status)
	}
	return nil
}
