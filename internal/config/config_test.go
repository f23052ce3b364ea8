package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/ucinar/exepad-runtime/internal/fetch"
	"github.com/ucinar/exepad-runtime/internal/tracing"
	"github.com/ucinar/exepad-runtime/internal/transport"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, fetch.ModePreview, cfg.App.Mode)
	require.Equal(t, "home", cfg.App.Route)
	require.Positive(t, cfg.Transport.QueueCapacity)
	require.Positive(t, cfg.Transport.MaxReconnectAttempts)
	require.True(t, cfg.UI.ShowStatusBar)
	require.NoError(t, Validate(cfg))
}

func TestValidateApp(t *testing.T) {
	require.NoError(t, ValidateApp(Defaults().App))

	bad := Defaults().App
	bad.Mode = "staging"
	require.Error(t, ValidateApp(bad))

	bad = Defaults().App
	bad.MaxRetries = -1
	require.Error(t, ValidateApp(bad))
}

func TestValidateTransport(t *testing.T) {
	require.NoError(t, ValidateTransport(transport.DefaultConfig()))

	bad := transport.DefaultConfig()
	bad.ReconnectBase = time.Minute
	bad.ReconnectMax = time.Second
	require.Error(t, ValidateTransport(bad))

	bad = transport.DefaultConfig()
	bad.QueueCapacity = -1
	require.Error(t, ValidateTransport(bad))
}

func TestValidateTracing(t *testing.T) {
	require.NoError(t, ValidateTracing(tracing.DefaultConfig()))

	bad := tracing.DefaultConfig()
	bad.Exporter = "jaeger-direct"
	require.Error(t, ValidateTracing(bad))

	bad = tracing.DefaultConfig()
	bad.SampleRate = 1.5
	require.Error(t, ValidateTracing(bad))

	bad = tracing.DefaultConfig()
	bad.Enabled = true
	bad.Exporter = "otlp"
	bad.OTLPEndpoint = ""
	require.Error(t, ValidateTracing(bad))
}

func TestViperUnmarshal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
config_url: https://apps.example.com
app:
  app_id: demo
  mode: published
  route: landing
transport:
  url: wss://editor.example.com/live
  queue_capacity: 16
  queue_ttl: 90s
session:
  preview: true
  debounce_interval: 250ms
ui:
  markdown_style: light
`), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))

	require.Equal(t, "https://apps.example.com", cfg.ConfigURL)
	require.Equal(t, "demo", cfg.App.AppID)
	require.Equal(t, fetch.ModePublished, cfg.App.Mode)
	require.Equal(t, "landing", cfg.App.Route)
	require.Equal(t, "wss://editor.example.com/live", cfg.Transport.URL)
	require.Equal(t, 16, cfg.Transport.QueueCapacity)
	require.Equal(t, 90*time.Second, cfg.Transport.QueueTTL)
	require.True(t, cfg.Session.Preview)
	require.Equal(t, 250*time.Millisecond, cfg.Session.DebounceInterval)
	require.Equal(t, "light", cfg.UI.MarkdownStyle)

	// Untouched sections keep their defaults.
	require.Equal(t, Defaults().Transport.HeartbeatInterval, cfg.Transport.HeartbeatInterval)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	require.NoError(t, WriteDefaultConfig(path))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, Validate(cfg))
}
