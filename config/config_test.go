package config

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const manifestYAML = `source: review.race
entry: main
default_model: anthropic/claude-sonnet-4
store: runs.db
escalation_webhook: https://example.com/hook
max_output_tokens: 4096
`

func TestLoadManifestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streetrace.yaml")
	if err := os.WriteFile(path, []byte(manifestYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Source != "review.race" || m.Entry != "main" ||
		m.DefaultModel != "anthropic/claude-sonnet-4" ||
		m.Store != "runs.db" || m.MaxOutputTokens != 4096 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestLoadManifestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifestYAML))
	}))
	defer srv.Close()

	m, err := LoadManifest(srv.URL + "/streetrace.yaml")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Source != "review.race" {
		t.Errorf("source = %q", m.Source)
	}
}

func TestLoadManifestURLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := LoadManifest(srv.URL + "/missing.yaml"); err == nil {
		t.Error("404 manifest did not error")
	}
}

func TestLoadManifestMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("source: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("malformed yaml did not error")
	}
}

func TestLoadSourceLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.race")
	if err := os.WriteFile(path, []byte("flow main:\n    return 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := LoadSource(path)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if src == "" {
		t.Error("empty source")
	}
}

func TestLoadSourceRejectsURLs(t *testing.T) {
	for _, u := range []string{"http://example.com/w.race", "https://example.com/w.race"} {
		_, err := LoadSource(u)
		if !errors.Is(err, ErrRemoteSource) {
			t.Errorf("LoadSource(%q) err = %v, want ErrRemoteSource", u, err)
		}
	}
}
