// Package config provides configuration types and defaults for the
// exepad runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ucinar/exepad-runtime/internal/fetch"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/runtime"
	"github.com/ucinar/exepad-runtime/internal/session"
	"github.com/ucinar/exepad-runtime/internal/tracing"
	"github.com/ucinar/exepad-runtime/internal/transport"
)

// Config holds all configuration options for the runtime.
type Config struct {
	App       runtime.Config   `mapstructure:"app"`
	ConfigURL string           `mapstructure:"config_url"` // hosting service base URL
	Transport transport.Config `mapstructure:"transport"`
	Session   session.Config   `mapstructure:"session"`
	Tracing   tracing.Config   `mapstructure:"tracing"`
	UI        UIConfig         `mapstructure:"ui"`
}

// UIConfig holds preview UI options.
type UIConfig struct {
	ShowStatusBar bool   `mapstructure:"show_status_bar"`
	MarkdownStyle string `mapstructure:"markdown_style"` // "dark" (default) or "light"
	Width         int    `mapstructure:"width"`          // render width for markdown
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		App: runtime.Config{
			Mode:       fetch.ModePreview,
			Route:      "home",
			RetryBase:  250 * time.Millisecond,
			MaxRetries: 3,
		},
		Transport: transport.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Tracing:   tracing.DefaultConfig(),
		UI: UIConfig{
			ShowStatusBar: true,
			MarkdownStyle: "dark",
			Width:         80,
		},
	}
}

// DefaultTracesFilePath returns the default location for trace output.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "traces.jsonl"
	}
	return filepath.Join(home, ".config", "exepad", "traces", "traces.jsonl")
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if err := ValidateApp(cfg.App); err != nil {
		return err
	}
	if err := ValidateTransport(cfg.Transport); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateApp checks app identity and mode.
func ValidateApp(app runtime.Config) error {
	switch app.Mode {
	case "", fetch.ModePreview, fetch.ModePublished:
	default:
		return fmt.Errorf("app.mode must be %q or %q, got %q",
			fetch.ModePreview, fetch.ModePublished, app.Mode)
	}
	if app.RetryBase < 0 {
		return fmt.Errorf("app.retry_base must not be negative")
	}
	if app.MaxRetries < 0 {
		return fmt.Errorf("app.max_retries must not be negative")
	}
	return nil
}

// ValidateTransport checks channel tuning for values that would break
// delivery guarantees silently.
func ValidateTransport(t transport.Config) error {
	if t.QueueCapacity < 0 {
		return fmt.Errorf("transport.queue_capacity must not be negative")
	}
	if t.MaxMessageBytes < 0 {
		return fmt.Errorf("transport.max_message_bytes must not be negative")
	}
	if t.ReconnectBase > 0 && t.ReconnectMax > 0 && t.ReconnectBase > t.ReconnectMax {
		return fmt.Errorf("transport.reconnect_base exceeds transport.reconnect_max")
	}
	return nil
}

// ValidateTracing checks tracing configuration.
func ValidateTracing(t tracing.Config) error {
	switch t.Exporter {
	case "", "file", "stdout", "otlp", "none":
	default:
		return fmt.Errorf("tracing.exporter must be one of file, stdout, otlp, none; got %q", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", t.SampleRate)
	}
	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint required when exporter is otlp")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Exepad Runtime Configuration

# Hosting service base URL; page configs are fetched from here.
# config_url: https://apps.example.com

app:
  # app_id: my-app
  mode: preview           # "preview" or "published"
  route: home             # initial route slug
  # retry_base: 250ms     # render retry backoff base
  # max_retries: 3

transport:
  # url: wss://editor.example.com/live
  heartbeat_interval: 25s
  pong_timeout: 60s
  reconnect_base: 1s
  reconnect_max: 30s
  max_reconnect_attempts: 8
  max_message_bytes: 262144
  queue_capacity: 64      # offline send queue, oldest evicted when full
  queue_ttl: 2m           # queued messages older than this are dropped
  dedupe_window: 5m       # inbound message-id memory

session:
  preview: true           # editing only ever activates on preview instances
  debounce_interval: 400ms
  autosave_interval: 30s

# UI settings
ui:
  show_status_bar: true
  # markdown_style: dark  # Markdown rendering style: "dark" (default) or "light"
  width: 80

# Tracing configuration (spans for fetch, resolve, render, apply)
tracing:
  enabled: false
  # exporter: file
  # file_path: ~/.config/exepad/traces/traces.jsonl
  #
  # Example: Send traces to Jaeger via OTLP
  # tracing:
  #   enabled: true
  #   exporter: otlp
  #   otlp_endpoint: jaeger.internal:4317
  #   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
