// Package notify delivers rendered trade messages to a chat channel.
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when a notifier lacks its credentials.
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers content. Returns error if delivery fails.
	Send(ctx context.Context, content string) error
}

// LogNotifier writes messages to the logger (paper mode, development).
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotifier{logger: logger}
}

// Send logs content at info level.
func (n *LogNotifier) Send(_ context.Context, content string) error {
	n.logger.WithField("notifier", "log").Info(content)
	return nil
}
