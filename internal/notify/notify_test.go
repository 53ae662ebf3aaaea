package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscord_RequiresCredentials(t *testing.T) {
	cases := []DiscordConfig{
		{ChannelID: "123"},
		{Token: "tok"},
		{Token: "  ", ChannelID: "123"},
	}
	for _, cfg := range cases {
		_, err := NewDiscord(cfg, nil)
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
}

func TestDiscord_Send(t *testing.T) {
	var got struct {
		path, auth, contentType string
		body                    map[string]string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewDiscord(DiscordConfig{Token: "tok", ChannelID: "987", Endpoint: srv.URL + "/api/v10/"}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Send(context.Background(), "Contract AAPL change 10.00%"))
	assert.Equal(t, "/api/v10/channels/987/messages", got.path)
	assert.Equal(t, "Bot tok", got.auth)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "Contract AAPL change 10.00%", got.body["content"])
}

func TestDiscord_SendTruncates(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, err := NewDiscord(DiscordConfig{Token: "tok", ChannelID: "1", Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, d.Send(context.Background(), strings.Repeat("é", 2500)))
	assert.Equal(t, 2000, len([]rune(content)))
}

func TestDiscord_SendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Missing Access"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	d, err := NewDiscord(DiscordConfig{Token: "tok", ChannelID: "1", Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	err = d.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Missing Access")
}

func TestDiscord_SendCanceled(t *testing.T) {
	d, err := NewDiscord(DiscordConfig{Token: "tok", ChannelID: "1", Endpoint: "http://127.0.0.1:0"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Send(ctx, "hello")
	assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)
}

func TestLogNotifier_Send(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger)

	require.NoError(t, n.Send(context.Background(), "Contract MSFT"))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Contract MSFT", entry.Message)
	assert.Equal(t, "log", entry.Data["notifier"])
}
