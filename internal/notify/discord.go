package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDiscordEndpoint is the Discord REST API root.
	DefaultDiscordEndpoint = "https://discord.com/api/v10"

	// maxMessageRunes is Discord's message content limit.
	maxMessageRunes = 2000
)

// DiscordConfig configures a Discord bot notifier.
type DiscordConfig struct {
	Token     string
	ChannelID string
	Endpoint  string
	Timeout   time.Duration
}

// Discord posts messages to a channel with a bot token.
type Discord struct {
	endpoint string
	token    string
	client   *http.Client
	logger   logrus.FieldLogger
}

var _ Notifier = (*Discord)(nil)

// NewDiscord creates a Discord notifier. Token and channel are required.
func NewDiscord(cfg DiscordConfig, logger logrus.FieldLogger) (*Discord, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, fmt.Errorf("%w: discord token and channel id are required", ErrNotConfigured)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDiscordEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Discord{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/channels/" + url.PathEscape(cfg.ChannelID) + "/messages",
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

// Send posts content to the channel, truncated to the Discord limit.
func (d *Discord) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": truncate(content, maxMessageRunes)})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			d.logger.WithError(err).Debug("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	d.logger.WithField("notifier", "discord").Debug("message delivered")
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
