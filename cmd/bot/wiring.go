package main

import (
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/fillwatch/internal/broker"
	"github.com/eddiefleurent/fillwatch/internal/config"
	"github.com/eddiefleurent/fillwatch/internal/mock"
	"github.com/eddiefleurent/fillwatch/internal/notify"
	"github.com/eddiefleurent/fillwatch/internal/retry"
	"github.com/eddiefleurent/fillwatch/internal/secrets"
)

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// buildSource returns the synthetic generator in paper mode and the
// circuit-broken Schwab client in live mode.
func buildSource(cfg *config.Config, logger *logrus.Logger) (broker.OrderSource, error) {
	if cfg.IsPaperTrading() {
		logger.Info("PAPER MODE - orders are synthetic")
		return mock.NewOrderGenerator(nil), nil
	}

	creds, err := secrets.Lookup(cfg.Secrets.EnvFile,
		secrets.SchwabAppKey, secrets.SchwabAppSecret, secrets.SchwabRefreshToken)
	if err != nil {
		return nil, err
	}
	accountHash, err := secrets.Get(secrets.SchwabAccountHash, cfg.Secrets.EnvFile)
	if err != nil {
		logger.Debug("No account hash configured, querying all linked accounts")
		accountHash = ""
	}

	retrier := retry.New(logger.WithField("component", "retry"), retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: config.DurationOrZero(cfg.Retry.InitialBackoff),
		MaxBackoff:     config.DurationOrZero(cfg.Retry.MaxBackoff),
		Multiplier:     cfg.Retry.Multiplier,
	})

	api, err := broker.NewSchwabAPI(broker.SchwabConfig{
		AppKey:       creds[secrets.SchwabAppKey],
		AppSecret:    creds[secrets.SchwabAppSecret],
		RefreshToken: creds[secrets.SchwabRefreshToken],
		AccountHash:  strings.TrimSpace(accountHash),
		BaseURL:      cfg.Broker.APIEndpoint,
		TokenURL:     cfg.Broker.TokenURL,
		Timeout:      cfg.GetBrokerTimeout(),
	}, retrier, logger.WithField("component", "schwab"))
	if err != nil {
		return nil, err
	}

	return broker.NewCircuitBreakerSourceWithSettings(api, breakerSettings(cfg), logger), nil
}

func breakerSettings(cfg *config.Config) broker.CircuitBreakerSettings {
	s := broker.DefaultCircuitBreakerSettings
	if cfg.Breaker.MaxRequests > 0 {
		s.MaxRequests = cfg.Breaker.MaxRequests
	}
	if d := config.DurationOrZero(cfg.Breaker.Interval); d > 0 {
		s.Interval = d
	}
	if d := config.DurationOrZero(cfg.Breaker.Timeout); d > 0 {
		s.Timeout = d
	}
	if cfg.Breaker.MinRequests > 0 {
		s.MinRequests = cfg.Breaker.MinRequests
	}
	if cfg.Breaker.FailureRatio > 0 {
		s.FailureRatio = cfg.Breaker.FailureRatio
	}
	return s
}

// buildNotifier returns the Discord notifier when configured and its
// credentials resolve, otherwise a log notifier.
func buildNotifier(cfg *config.Config, logger *logrus.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(logger.WithField("component", "notify"))
	if cfg.Notify.Provider != "discord" {
		return logNotifier, nil
	}

	creds, err := secrets.Lookup(cfg.Secrets.EnvFile, secrets.DiscordBotToken, secrets.DiscordChannelID)
	if err != nil {
		logger.WithError(err).Warn("Discord credentials unavailable, notifications go to the log")
		return logNotifier, nil
	}
	discord, err := notify.NewDiscord(notify.DiscordConfig{
		Token:     creds[secrets.DiscordBotToken],
		ChannelID: creds[secrets.DiscordChannelID],
		Endpoint:  cfg.Notify.APIEndpoint,
		Timeout:   cfg.GetNotifyTimeout(),
	}, logger.WithField("component", "discord"))
	if errors.Is(err, notify.ErrNotConfigured) {
		logger.Warn("Discord credentials are blank, notifications go to the log")
		return logNotifier, nil
	}
	if err != nil {
		return nil, err
	}
	return discord, nil
}
