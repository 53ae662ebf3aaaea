// Package secrets resolves credentials from the process environment with a
// dotenv file as fallback.
package secrets

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Credential keys read at startup.
const (
	SchwabAppKey       = "SCHWAB_APP_KEY"
	SchwabAppSecret    = "SCHWAB_APP_SECRET"
	SchwabRefreshToken = "SCHWAB_REFRESH_TOKEN"
	SchwabAccountHash  = "SCHWAB_ACCOUNT_HASH"
	DiscordBotToken    = "DISCORD_BOT_TOKEN"
	DiscordChannelID   = "DISCORD_CHANNEL_ID"
)

// ErrNotFound is returned when a key is neither in the environment nor in
// the dotenv file.
var ErrNotFound = errors.New("secret not found")

// Get returns the value of key. The environment wins over envFile. An empty
// envFile disables the fallback.
func Get(key, envFile string) (string, error) {
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	if envFile == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	vals, err := godotenv.Read(envFile)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", envFile, err)
	}
	if v, ok := vals[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, key, envFile)
}

// Lookup resolves every key, reading envFile at most once. Missing keys are
// omitted from the result and reported together in the error.
func Lookup(envFile string, keys ...string) (map[string]string, error) {
	var fileVals map[string]string
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
		fileVals = vals
	}

	out := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			out[key] = v
			continue
		}
		if v, ok := fileVals[key]; ok {
			out[key] = v
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %v", ErrNotFound, missing)
	}
	return out, nil
}
