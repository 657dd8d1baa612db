package config

import "time"

// Config is the root configuration for Overseer.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Session SessionConfig `json:"session"`
	Tasks   TasksConfig   `json:"tasks"`
	Log     LogConfig     `json:"log"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SessionConfig points at the agent session server Overseer delegates to.
type SessionConfig struct {
	BaseURL   string `json:"base_url"`             // HTTP API, e.g. http://127.0.0.1:4096
	EventsURL string `json:"events_url,omitempty"` // websocket event stream (default: derived from base_url)
}

// TasksConfig tunes background task tracking.
type TasksConfig struct {
	PollInterval    Duration `json:"poll_interval,omitempty"`
	RetentionWindow Duration `json:"retention_window,omitempty"`
	ParentGrace     Duration `json:"parent_grace,omitempty"`
	NotifyDelay     Duration `json:"notify_delay,omitempty"`
	ReconnectDelay  Duration `json:"reconnect_delay,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
