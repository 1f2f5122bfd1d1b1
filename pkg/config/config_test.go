package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRelayAppliesDefaults(t *testing.T) {
	path := writeFile(t, "signing_secret: s3cret\n")

	cfg, err := LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, 4, cfg.MaxConnsPerHost)
	assert.Equal(t, 60*time.Second, cfg.ConnTimeout())
	assert.Equal(t, 45*time.Second, cfg.Keepalive())
	assert.Equal(t, "s3cret", cfg.SigningSecret)
}

func TestLoadRelayFileOverrides(t *testing.T) {
	path := writeFile(t, `
port: 9000
signing_secret: s3cret
max_connections_per_host: 8
connection_timeout: 120
keepalive_interval: 30
log_level: debug
`)

	cfg, err := LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8, cfg.MaxConnsPerHost)
	assert.Equal(t, 120*time.Second, cfg.ConnTimeout())
	assert.Equal(t, 30*time.Second, cfg.Keepalive())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRelaySecretFromEnv(t *testing.T) {
	t.Setenv("TERMRELAY_SECRET", "env-secret")
	path := writeFile(t, "signing_secret: file-secret\n")

	cfg, err := LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.SigningSecret, "environment wins over the file")
}

func TestLoadRelayRequiresSecret(t *testing.T) {
	path := writeFile(t, "port: 9000\n")

	_, err := LoadRelay(path)
	assert.ErrorContains(t, err, "signing secret")
}

func TestLoadRelayRejectsKeepaliveNotShorterThanTimeout(t *testing.T) {
	path := writeFile(t, `
signing_secret: s3cret
connection_timeout: 30
keepalive_interval: 30
`)

	_, err := LoadRelay(path)
	assert.ErrorContains(t, err, "keepalive_interval")
}

func TestLoadRelayMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TERMRELAY_SECRET", "env-secret")

	cfg, err := LoadRelay(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRelay().Port, cfg.Port)
}

func TestLoadRelayRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "port: [not a port\n")

	_, err := LoadRelay(path)
	assert.Error(t, err)
}

func TestLoadHostDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, `
relay_url: wss://relay.example.com/ws
host_id: cozy-tiger-4829
shell: /bin/zsh
auto_register: true
attach_poll_ms: 50
`)

	cfg, err := LoadHost(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/ws", cfg.RelayURL)
	assert.Equal(t, "cozy-tiger-4829", cfg.HostID)
	assert.Equal(t, "/bin/zsh", cfg.Shell)
	assert.True(t, cfg.AutoRegister)
	assert.Equal(t, 50*time.Millisecond, cfg.AttachPoll())
	assert.Equal(t, 80, cfg.Cols)
	assert.Equal(t, 24, cfg.Rows)
}

func TestLoadHostEnvOverrides(t *testing.T) {
	t.Setenv("TERMRELAY_RELAY_URL", "wss://env.example.com/ws")
	t.Setenv("TERMRELAY_TOKEN", "env-token")
	path := writeFile(t, "relay_url: wss://file.example.com/ws\ntoken: file-token\n")

	cfg, err := LoadHost(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://env.example.com/ws", cfg.RelayURL)
	assert.Equal(t, "env-token", cfg.Token)
}
