// Package retry runs operations with jittered exponential backoff, retrying
// only errors that look transient.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls the retry schedule.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Timeout        time.Duration
}

// DefaultConfig retries three times starting at five seconds, doubling.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 5 * time.Second,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2.0,
	Timeout:        2 * time.Minute,
}

// Retrier holds a sanitized Config and a logger.
type Retrier struct {
	config Config
	logger logrus.FieldLogger
}

// New creates a Retrier. Invalid config values fall back to DefaultConfig.
func New(logger logrus.FieldLogger, config ...Config) *Retrier {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig.Multiplier
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retrier{config: cfg, logger: logger}
}

// Config returns the effective configuration.
func (r *Retrier) Config() Config {
	return r.config
}

// Do calls fn until it succeeds, returns a non-transient error, the retry
// budget is spent, or ctx (bounded by Config.Timeout) is done.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = New(nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}
		if opCtx.Err() != nil {
			return zero, fmt.Errorf("%s timed out after %v: %w", op, r.config.Timeout, opCtx.Err())
		}

		res, err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				r.logger.WithField("op", op).Infof("succeeded on attempt %d", attempt+1)
			}
			return res, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == r.config.MaxRetries {
			break
		}

		r.logger.WithError(err).WithField("op", op).
			Warnf("attempt %d/%d failed, retrying in %v", attempt+1, r.config.MaxRetries+1, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = r.nextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		case <-opCtx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed: %w", op, lastErr)
}

func (r *Retrier) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * r.config.Multiplier)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			r.logger.WithError(err).Debug("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

type temporary interface {
	Temporary() bool
}

type statusCoder interface {
	StatusCode() int
}

// IsTransient reports whether err is worth retrying. Context errors never
// are. Errors exposing StatusCode() are transient for 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
