// Package config loads hwhash settings from HWHASH_* environment variables,
// optionally overlaid by a YAML file. Command-line flags override both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Emulator is the Device value selecting a local software device.
const Emulator = "emulator"

// Confirmation modes of a software device.
const (
	ConfirmAuto     = "auto"
	ConfirmDeny     = "deny"
	ConfirmTerminal = "terminal"
)

type Config struct {
	// Client side.
	Device   string `yaml:"device"`
	DeviceID string `yaml:"device_id"`
	Protocol string `yaml:"protocol"`
	TLSCA    string `yaml:"tls_ca"`

	// Shared.
	AuthToken string `yaml:"auth_token"`
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Device server.
	GRPCAddr     string `yaml:"grpc_addr"`
	MetricsAddr  string `yaml:"metrics_addr"`
	TLSCert      string `yaml:"tls_cert"`
	TLSKey       string `yaml:"tls_key"`
	AuditBuffer  int    `yaml:"audit_buffer"`
	AuditFile    string `yaml:"audit_file"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`
	Confirm      string `yaml:"confirm"`
}

// Load reads the environment, then the YAML file named by path or
// HWHASH_CONFIG when path is empty.
func Load(path string) (Config, error) {
	cfg := Config{
		Device:       envOr("HWHASH_DEVICE", Emulator),
		DeviceID:     os.Getenv("HWHASH_DEVICE_ID"),
		Protocol:     envOr("HWHASH_PROTOCOL", "v2"),
		TLSCA:        os.Getenv("HWHASH_TLS_CA"),
		AuthToken:    os.Getenv("HWHASH_AUTH_TOKEN"),
		DataDir:      envOr("HWHASH_DATA_DIR", defaultDataDir()),
		LogLevel:     envOr("HWHASH_LOG_LEVEL", "warn"),
		LogFormat:    envOr("HWHASH_LOG_FORMAT", "text"),
		GRPCAddr:     envOr("HWHASH_GRPC_ADDR", "127.0.0.1:50061"),
		MetricsAddr:  os.Getenv("HWHASH_METRICS_ADDR"),
		TLSCert:      os.Getenv("HWHASH_TLS_CERT"),
		TLSKey:       os.Getenv("HWHASH_TLS_KEY"),
		AuditBuffer:  envInt("HWHASH_AUDIT_BUFFER", 1024),
		AuditFile:    os.Getenv("HWHASH_AUDIT_FILE"),
		RateLimitRPS: envInt("HWHASH_RATE_LIMIT_RPS", 10),
		Confirm:      envOr("HWHASH_CONFIRM", ConfirmTerminal),
	}

	if path == "" {
		path = os.Getenv("HWHASH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Fields absent from the file keep their current values.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Confirm {
	case ConfirmAuto, ConfirmDeny, ConfirmTerminal:
	default:
		return fmt.Errorf("confirm: unknown mode %q", c.Confirm)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format: unknown format %q", c.LogFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

// DevicesFile is the device store path inside the data directory.
func (c Config) DevicesFile() string {
	return filepath.Join(c.DataDir, "devices.json")
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hwhash")
	}
	return ".hwhash"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
