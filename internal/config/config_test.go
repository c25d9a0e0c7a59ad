package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndDerived(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
auth:
  hs_secret: s3cret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 4000, cfg.App.Port)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "session_token", cfg.Auth.CookieName)
	require.Equal(t, "substring", cfg.Search.Match)
	require.Equal(t, 25*time.Second, cfg.PingInterval)
	require.Equal(t, 10*time.Second, cfg.WriteDeadline)
	require.Equal(t, int64(65536), cfg.WS.MaxMessageSizeBytes)
	require.Equal(t, 64, cfg.Bus.BufferSize)
	require.False(t, cfg.Consul.Enabled)
	require.Equal(t, 10*time.Second, cfg.ConsulCheck)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
auth:
  hs_secret: s3cret
search:
  match: substring
`)
	t.Setenv("MESSENGER_SEARCH_MATCH", "prefix")
	t.Setenv("MESSENGER_APP_PORT", "8088")
	t.Setenv("MESSENGER_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prefix", cfg.Search.Match)
	require.Equal(t, 8088, cfg.App.Port)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing secret", "storage:\n  driver: memory\n", "auth.hs_secret"},
		{"bad driver", "storage:\n  driver: postgres\nauth:\n  hs_secret: x\n", "storage.driver"},
		{"bad match", "storage:\n  driver: memory\nauth:\n  hs_secret: x\nsearch:\n  match: fuzzy\n", "search.match"},
		{"rs256 without key", "storage:\n  driver: memory\nauth:\n  algorithm: RS256\n", "auth.public_key_path"},
		{"bridge without redis", "storage:\n  driver: memory\nauth:\n  hs_secret: x\nredis:\n  bridge_enabled: true\n", "redis.bridge_enabled"},
		{"consul without host", "storage:\n  driver: memory\nauth:\n  hs_secret: x\nconsul:\n  enabled: true\n  advertise_host: \"\"\n", "consul.advertise_host"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
