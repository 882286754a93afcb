// Package config loads the project manifest.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrRemoteSource is returned when a workflow source is addressed by URL.
// The manifest is declarative and may be fetched remotely, but .race files
// are executable definitions and must come from the local filesystem.
var ErrRemoteSource = errors.New("workflow sources cannot be loaded from a URL")

// Manifest is the project configuration, streetrace.yaml.
type Manifest struct {
	// Source is the workflow file to compile and run.
	Source string `yaml:"source"`

	// Entry overrides the program's elected entry point.
	Entry string `yaml:"entry"`

	// DefaultModel is the caller-side model fallback, used only when the
	// workflow itself resolves none.
	DefaultModel string `yaml:"default_model"`

	// Store is the SQLite run-history path. Empty disables recording.
	Store string `yaml:"store"`

	// EscalationWebhook, when set, receives escalations as JSON POSTs.
	// Without it escalations go to the log.
	EscalationWebhook string `yaml:"escalation_webhook"`

	// MaxOutputTokens caps backend output per call. Zero uses the
	// backend default.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// DefaultManifestName is the manifest filename looked up in the working
// directory when none is given.
const DefaultManifestName = "streetrace.yaml"

// LoadManifest reads a manifest from a local path or an http(s) URL. The
// manifest is plain configuration, so remote loading is allowed; the
// workflow source it names is still loaded through LoadSource and stays
// subject to the local-only rule.
func LoadManifest(pathOrURL string) (*Manifest, error) {
	var data []byte
	var err error
	if isURL(pathOrURL) {
		data, err = fetch(pathOrURL)
	} else {
		data, err = os.ReadFile(pathOrURL)
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// LoadSource reads workflow source from the local filesystem. URL paths are
// rejected outright: executable definitions are never fetched remotely.
func LoadSource(path string) (string, error) {
	if isURL(path) {
		return "", fmt.Errorf("%s: %w", path, ErrRemoteSource)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
