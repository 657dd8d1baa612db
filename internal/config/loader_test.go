package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"gateway": {
		"host": "0.0.0.0",
		"port": 9999
	},
	"session": {
		"base_url": "http://127.0.0.1:5000"
	},
	"tasks": {
		"poll_interval": "250ms"
	},
	"log": {
		"level": "${{ .Env.OVERSEER_LOG_LEVEL }}"
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OVERSEER_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Session.BaseURL != "http://127.0.0.1:5000" {
		t.Errorf("expected base_url http://127.0.0.1:5000, got %s", cfg.Session.BaseURL)
	}
	if got := cfg.Tasks.PollInterval.Duration().Milliseconds(); got != 250 {
		t.Errorf("expected poll_interval 250ms, got %dms", got)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 17433 {
		t.Errorf("expected default port 17433, got %d", cfg.Gateway.Port)
	}
	if cfg.Session.BaseURL != "http://127.0.0.1:4096" {
		t.Errorf("expected default base_url, got %s", cfg.Session.BaseURL)
	}
	if cfg.Session.EventsURL != "ws://127.0.0.1:4096/event" {
		t.Errorf("expected derived events_url, got %s", cfg.Session.EventsURL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 17433 {
		t.Errorf("expected default port 17433, got %d", cfg.Gateway.Port)
	}
}

func TestDeriveEventsURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:4096", "ws://127.0.0.1:4096/event"},
		{"https://agents.example.com", "wss://agents.example.com/event"},
		{"http://127.0.0.1:4096/", "ws://127.0.0.1:4096/event"},
	}
	for _, c := range cases {
		if got := deriveEventsURL(c.base); got != c.want {
			t.Errorf("deriveEventsURL(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
