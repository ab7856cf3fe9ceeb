package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HWHASH_CONFIG", "")
	t.Setenv("HWHASH_DATA_DIR", "/tmp/hwhash-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Emulator, cfg.Device)
	assert.Equal(t, "v2", cfg.Protocol)
	assert.Equal(t, ConfirmTerminal, cfg.Confirm)
	assert.Equal(t, 1024, cfg.AuditBuffer)
	assert.Equal(t, "/tmp/hwhash-test/devices.json", cfg.DevicesFile())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("HWHASH_CONFIG", "")
	t.Setenv("HWHASH_DEVICE", "10.0.0.2:50061")
	t.Setenv("HWHASH_RATE_LIMIT_RPS", "3")
	t.Setenv("HWHASH_AUDIT_BUFFER", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:50061", cfg.Device)
	assert.Equal(t, 3, cfg.RateLimitRPS)
	assert.Equal(t, 1024, cfg.AuditBuffer)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("HWHASH_AUTH_TOKEN", "from-env")
	t.Setenv("HWHASH_LOG_LEVEL", "info")

	path := filepath.Join(t.TempDir(), "hwhash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth_token: from-file\nconfirm: auto\nrate_limit_rps: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AuthToken)
	assert.Equal(t, ConfirmAuto, cfg.Confirm)
	assert.Equal(t, 0, cfg.RateLimitRPS)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwhash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: abc\n"), 0o600))
	t.Setenv("HWHASH_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.DeviceID)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("confirm: [\n"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("confirm: maybe\n"), 0o600))
	_, err = Load(invalid)
	assert.Error(t, err)
}

func TestValidateTLSPair(t *testing.T) {
	cfg := Config{Confirm: ConfirmAuto, LogFormat: "json", LogLevel: "debug", TLSCert: "cert.pem"}
	assert.Error(t, cfg.Validate())
	cfg.TLSKey = "key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
