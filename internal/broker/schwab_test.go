package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eddiefleurent/fillwatch/internal/retry"
)

func fastRetrier() *retry.Retrier {
	logger, _ := test.NewNullLogger()
	return retry.New(logger, retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		Timeout:        2 * time.Second,
	})
}

// newSchwabServer serves the token endpoint and the orders endpoints.
func newSchwabServer(t *testing.T, orders http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-abc" {
			t.Errorf("refresh_token = %q, want refresh-abc", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "app-key" || pass != "app-secret" {
			t.Errorf("basic auth = %q/%q (%v), want app-key/app-secret", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-xyz","token_type":"Bearer","expires_in":1800}`))
	})
	mux.HandleFunc("/trader/v1/", orders)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestSchwab(t *testing.T, srv *httptest.Server, accountHash string) *SchwabAPI {
	t.Helper()
	logger, _ := test.NewNullLogger()
	api, err := NewSchwabAPI(SchwabConfig{
		AppKey:       "app-key",
		AppSecret:    "app-secret",
		RefreshToken: "refresh-abc",
		AccountHash:  accountHash,
		BaseURL:      srv.URL + "/trader/v1/",
		TokenURL:     srv.URL + "/v1/oauth/token",
		Timeout:      2 * time.Second,
	}, fastRetrier(), logger)
	if err != nil {
		t.Fatalf("NewSchwabAPI: %v", err)
	}
	api.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) }
	return api
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 401, Body: "unauthorized"}
	if got, want := err.Error(), "API error 401: unauthorized"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if err.StatusCode() != 401 {
		t.Fatalf("StatusCode() = %d, want 401", err.StatusCode())
	}
}

func TestNewSchwabAPI_MissingCredentials(t *testing.T) {
	cases := []SchwabConfig{
		{AppSecret: "s", RefreshToken: "r"},
		{AppKey: "k", RefreshToken: "r"},
		{AppKey: "k", AppSecret: "s"},
	}
	for _, cfg := range cases {
		if _, err := NewSchwabAPI(cfg, nil, nil); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("NewSchwabAPI(%+v) error = %v, want ErrMissingCredentials", cfg, err)
		}
	}
}

func TestNewSchwabAPI_Defaults(t *testing.T) {
	api, err := NewSchwabAPI(SchwabConfig{AppKey: "k", AppSecret: "s", RefreshToken: "r"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.baseURL != DefaultSchwabBaseURL {
		t.Fatalf("baseURL = %q, want %q", api.baseURL, DefaultSchwabBaseURL)
	}
	if got, want := api.ordersEndpoint(), DefaultSchwabBaseURL+"/orders"; got != want {
		t.Fatalf("ordersEndpoint() = %q, want %q", got, want)
	}
	if api.client.Timeout != 10*time.Second {
		t.Fatalf("client timeout = %v, want 10s", api.client.Timeout)
	}
}

func TestGetAccountOrders_AllAccounts(t *testing.T) {
	srv, tokenCalls := newSchwabServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/trader/v1/orders" {
			t.Errorf("path = %q, want /trader/v1/orders", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-xyz" {
			t.Errorf("Authorization = %q, want Bearer access-xyz", got)
		}
		q := r.URL.Query()
		if got := q.Get("fromEnteredTime"); got != "2024-01-02T14:04:05.000Z" {
			t.Errorf("fromEnteredTime = %q", got)
		}
		if got := q.Get("toEnteredTime"); got != "2024-01-02T15:04:05.000Z" {
			t.Errorf("toEnteredTime = %q", got)
		}
		if got := q.Get("status"); got != "FILLED" {
			t.Errorf("status = %q, want FILLED", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"orderId": 1}]`))
	})
	api := newTestSchwab(t, srv, "")

	for i := 0; i < 2; i++ {
		body, err := api.GetAccountOrders(context.Background(), "filled", time.Hour)
		if err != nil {
			t.Fatalf("GetAccountOrders: %v", err)
		}
		if string(body) != `[{"orderId": 1}]` {
			t.Fatalf("body = %s", body)
		}
	}
	if got := atomic.LoadInt32(tokenCalls); got != 1 {
		t.Fatalf("token refreshes = %d, want 1 (token reused)", got)
	}
}

func TestGetAccountOrders_AccountHashNoStatus(t *testing.T) {
	srv, _ := newSchwabServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trader/v1/accounts/HASH123/orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Has("status") {
			t.Errorf("status should be omitted, got %q", r.URL.Query().Get("status"))
		}
		_, _ = w.Write([]byte(`[]`))
	})
	api := newTestSchwab(t, srv, "HASH123")

	body, err := api.GetAccountOrders(context.Background(), "", 30*time.Minute)
	if err != nil {
		t.Fatalf("GetAccountOrders: %v", err)
	}
	if string(body) != "[]" {
		t.Fatalf("body = %s, want []", body)
	}
}

func TestGetAccountOrders_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv, _ := newSchwabServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	api := newTestSchwab(t, srv, "")

	if _, err := api.GetAccountOrders(context.Background(), "FILLED", time.Hour); err != nil {
		t.Fatalf("GetAccountOrders: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGetAccountOrders_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv, _ := newSchwabServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"bad account"}`, http.StatusBadRequest)
	})
	api := newTestSchwab(t, srv, "")

	_, err := api.GetAccountOrders(context.Background(), "FILLED", time.Hour)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "bad account") {
		t.Fatalf("body = %q, want upstream message", apiErr.Body)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestWithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("plain client should not add auth, got %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	api, err := NewSchwabAPI(SchwabConfig{AppKey: "k", AppSecret: "s", RefreshToken: "r", BaseURL: srv.URL}, fastRetrier(), nil)
	if err != nil {
		t.Fatalf("NewSchwabAPI: %v", err)
	}
	api.WithHTTPClient(srv.Client())
	if _, err := api.GetAccountOrders(context.Background(), "", time.Hour); err != nil {
		t.Fatalf("GetAccountOrders: %v", err)
	}
	if api.WithHTTPClient(nil).client == nil {
		t.Fatal("nil client must not replace the existing one")
	}
}
