package streetrace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookEscalatorPosts(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	e := &WebhookEscalator{URL: srv.URL}
	if err := e.Escalate(context.Background(), "needs review"); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got["message"] != "needs review" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookEscalatorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := &WebhookEscalator{URL: srv.URL}
	if err := e.Escalate(context.Background(), "x"); err == nil {
		t.Error("5xx response did not error")
	}
}

func TestLogEscalatorNeverFails(t *testing.T) {
	e := &LogEscalator{}
	if err := e.Escalate(context.Background(), "check this"); err != nil {
		t.Errorf("Escalate: %v", err)
	}
}
