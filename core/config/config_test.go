package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{"message", "edited_message", "callback_query"}, cfg.Telegram.AllowedUpdates)
	assert.Equal(t, 1, cfg.RateLimit.Burst)
}

func TestNormalizeRejectsUnknownExclusion(t *testing.T) {
	cfg := &Config{RateLimit: RateLimitConfig{ExcludeUpdates: []string{"inline_query"}}}
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeLowercasesUpdates(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{AllowedUpdates: []string{" Message ", "CALLBACK_QUERY"}},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{"Callback"}},
	}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, []string{"message", "callback_query"}, cfg.Telegram.AllowedUpdates)
	assert.Equal(t, []string{"callback"}, cfg.RateLimit.ExcludeUpdates)
}

func TestNormalizeRejectsNegativeTimeout(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{LongPollTimeoutSeconds: -1}}
	assert.Error(t, Normalize(cfg))
}

func TestLoadAppliesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("logging:\n  level: debug\nrate_limit:\n  interval_ms: 500\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("METRICS_LISTEN", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 500, cfg.RateLimit.IntervalMS)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
}
