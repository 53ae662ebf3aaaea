// Package broker provides clients for fetching order history from the
// brokerage. It includes the Schwab Trader API client.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/eddiefleurent/fillwatch/internal/retry"
)

const (
	// DefaultSchwabBaseURL is the Schwab Trader API root.
	DefaultSchwabBaseURL = "https://api.schwabapi.com/trader/v1"
	// DefaultSchwabTokenURL is the Schwab OAuth token endpoint.
	DefaultSchwabTokenURL = "https://api.schwabapi.com/v1/oauth/token"

	// schwabTimeFormat is the enteredTime query format, always UTC.
	schwabTimeFormat = "2006-01-02T15:04:05.000Z"

	maxErrorBody = 64 << 10
)

// ErrMissingCredentials is returned when the app key, app secret or refresh
// token are not configured.
var ErrMissingCredentials = errors.New("schwab credentials missing")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// StatusCode exposes the HTTP status for retry classification.
func (e *APIError) StatusCode() int {
	return e.Status
}

// SchwabConfig holds the client settings and credentials.
type SchwabConfig struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	// AccountHash selects the per-account endpoint; empty queries all linked accounts.
	AccountHash string
	BaseURL     string
	TokenURL    string
	Timeout     time.Duration
}

// SchwabAPI fetches orders from the Schwab Trader API.
type SchwabAPI struct {
	client      *http.Client
	baseURL     string
	accountHash string
	retrier     *retry.Retrier
	logger      logrus.FieldLogger
	now         func() time.Time
}

var _ OrderSource = (*SchwabAPI)(nil)

// NewSchwabAPI builds a client that authenticates with the OAuth refresh
// token flow. Access tokens are refreshed on demand by the token source.
func NewSchwabAPI(cfg SchwabConfig, retrier *retry.Retrier, logger logrus.FieldLogger) (*SchwabAPI, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.RefreshToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSchwabBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultSchwabTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	if retrier == nil {
		retrier = retry.New(logger)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.AppKey,
		ClientSecret: cfg.AppSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	base := &http.Client{Timeout: cfg.Timeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := oauthCfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	client := oauth2.NewClient(tokenCtx, ts)
	client.Timeout = cfg.Timeout

	return &SchwabAPI{
		client:      client,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accountHash: cfg.AccountHash,
		retrier:     retrier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *SchwabAPI) WithHTTPClient(c *http.Client) *SchwabAPI {
	if c != nil {
		s.client = c
	}
	return s
}

func (s *SchwabAPI) ordersEndpoint() string {
	if s.accountHash != "" {
		return s.baseURL + "/accounts/" + url.PathEscape(s.accountHash) + "/orders"
	}
	return s.baseURL + "/orders"
}

// GetAccountOrders returns the raw JSON array of orders entered in the
// lookback window. Transient failures are retried.
func (s *SchwabAPI) GetAccountOrders(ctx context.Context, status string, lookback time.Duration) ([]byte, error) {
	now := s.now().UTC()
	params := url.Values{}
	params.Set("fromEnteredTime", now.Add(-lookback).Format(schwabTimeFormat))
	params.Set("toEnteredTime", now.Format(schwabTimeFormat))
	if status != "" {
		params.Set("status", strings.ToUpper(status))
	}
	endpoint := s.ordersEndpoint()

	return retry.Do(ctx, s.retrier, "get account orders", func(ctx context.Context) ([]byte, error) {
		return s.getCtx(ctx, endpoint, params)
	})
}

func (s *SchwabAPI) getCtx(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "fillwatch/1.0 (+schwab)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.WithError(err).Debug("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", req.URL.Path)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s (retry-after: %s)", req.URL.Path, string(body), ra)}
		}
		return nil, &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", req.URL.Path, string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read orders response: %w", err)
	}
	return body, nil
}
