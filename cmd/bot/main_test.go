package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/fillwatch/internal/broker"
	"github.com/eddiefleurent/fillwatch/internal/config"
	"github.com/eddiefleurent/fillwatch/internal/mock"
	"github.com/eddiefleurent/fillwatch/internal/notify"
	"github.com/eddiefleurent/fillwatch/internal/poller"
	"github.com/eddiefleurent/fillwatch/internal/secrets"
)

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Poll:        config.PollConfig{Interval: "10ms"},
		Secrets:     config.SecretsConfig{EnvFile: filepath.Join(t.TempDir(), "missing.env")},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(t, func(c *config.Config) {
		c.Environment.LogFormat = "json"
		c.Environment.LogLevel = "warn"
	})
	logger := newLogger(cfg, &buf)

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	text := newLogger(testConfig(t, nil), &buf)
	assert.Equal(t, logrus.InfoLevel, text.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, text.Formatter)
}

func TestBreakerSettings(t *testing.T) {
	assert.Equal(t, broker.DefaultCircuitBreakerSettings, breakerSettings(testConfig(t, nil)))

	cfg := testConfig(t, func(c *config.Config) {
		c.Breaker = config.BreakerConfig{
			MaxRequests:  1,
			Interval:     "2m",
			Timeout:      "5s",
			MinRequests:  10,
			FailureRatio: 0.25,
		}
	})
	assert.Equal(t, broker.CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     2 * time.Minute,
		Timeout:      5 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.25,
	}, breakerSettings(cfg))
}

func TestBuildSource(t *testing.T) {
	clearEnv(t, secrets.SchwabAppKey, secrets.SchwabAppSecret,
		secrets.SchwabRefreshToken, secrets.SchwabAccountHash)

	t.Run("paper uses the generator", func(t *testing.T) {
		src, err := buildSource(testConfig(t, nil), quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &mock.OrderGenerator{}, src)
	})

	t.Run("live without credentials fails", func(t *testing.T) {
		cfg := testConfig(t, func(c *config.Config) { c.Environment.Mode = "live" })
		_, err := buildSource(cfg, quietLogger())
		require.ErrorIs(t, err, secrets.ErrNotFound)
		assert.Contains(t, err.Error(), secrets.SchwabRefreshToken)
	})

	t.Run("live with credentials wraps the client in a breaker", func(t *testing.T) {
		envFile := writeEnvFile(t, "SCHWAB_APP_KEY=key\nSCHWAB_APP_SECRET=secret\nSCHWAB_REFRESH_TOKEN=refresh\n")
		cfg := testConfig(t, func(c *config.Config) {
			c.Environment.Mode = "live"
			c.Secrets.EnvFile = envFile
		})
		src, err := buildSource(cfg, quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &broker.CircuitBreakerSource{}, src)
	})
}

func TestBuildNotifier(t *testing.T) {
	clearEnv(t, secrets.DiscordBotToken, secrets.DiscordChannelID)

	t.Run("log provider", func(t *testing.T) {
		n, err := buildNotifier(testConfig(t, nil), quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &notify.LogNotifier{}, n)
	})

	t.Run("discord without credentials falls back to log", func(t *testing.T) {
		cfg := testConfig(t, func(c *config.Config) { c.Notify.Provider = "discord" })
		n, err := buildNotifier(cfg, quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &notify.LogNotifier{}, n)
	})

	t.Run("discord with blank credentials falls back to log", func(t *testing.T) {
		envFile := writeEnvFile(t, "DISCORD_BOT_TOKEN=\nDISCORD_CHANNEL_ID=\n")
		cfg := testConfig(t, func(c *config.Config) {
			c.Notify.Provider = "discord"
			c.Secrets.EnvFile = envFile
		})
		n, err := buildNotifier(cfg, quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &notify.LogNotifier{}, n)
	})

	t.Run("discord with credentials", func(t *testing.T) {
		envFile := writeEnvFile(t, "DISCORD_BOT_TOKEN=token\nDISCORD_CHANNEL_ID=123\n")
		cfg := testConfig(t, func(c *config.Config) {
			c.Notify.Provider = "discord"
			c.Secrets.EnvFile = envFile
		})
		n, err := buildNotifier(cfg, quietLogger())
		require.NoError(t, err)
		assert.IsType(t, &notify.Discord{}, n)
	})
}

func TestNewBot(t *testing.T) {
	bot, err := NewBot(testConfig(t, nil), quietLogger())
	require.NoError(t, err)
	assert.Nil(t, bot.dashboard)
	assert.Equal(t, poller.StateIdle, bot.poller.State())

	bot, err = NewBot(testConfig(t, func(c *config.Config) {
		c.Dashboard.Enabled = true
		c.Dashboard.Port = 18089
	}), quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, bot.dashboard)

	families, err := bot.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewBot_LiveWithoutCredentials(t *testing.T) {
	clearEnv(t, secrets.SchwabAppKey, secrets.SchwabAppSecret, secrets.SchwabRefreshToken)
	_, err := NewBot(testConfig(t, func(c *config.Config) { c.Environment.Mode = "live" }), quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order source")
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	bot, err := NewBot(testConfig(t, func(c *config.Config) {
		c.Dashboard.Enabled = true
		c.Dashboard.Port = 18090
	}), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, poller.StateStopped, bot.poller.State())
}
