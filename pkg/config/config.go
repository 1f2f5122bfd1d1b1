// Package config holds the YAML-backed configuration for the relay server
// and the host bridge daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Relay configures the relay broker server.
type Relay struct {
	Port              int    `yaml:"port"`
	TLSCertPath       string `yaml:"tls_cert_path"`
	TLSKeyPath        string `yaml:"tls_key_path"`
	SigningSecret     string `yaml:"signing_secret"`
	MaxConnsPerHost   int    `yaml:"max_connections_per_host"`
	ConnectionTimeout int    `yaml:"connection_timeout"` // seconds
	KeepaliveInterval int    `yaml:"keepalive_interval"` // seconds
	LogLevel          string `yaml:"log_level"`
}

// Host configures the host-side bridge daemon.
type Host struct {
	RelayURL        string `yaml:"relay_url"`
	HostID          string `yaml:"host_id"`
	Token           string `yaml:"token"`
	Shell           string `yaml:"shell"`
	Cols            int    `yaml:"cols"`
	Rows            int    `yaml:"rows"`
	DeviceStorePath string `yaml:"device_store_path"`
	AutoRegister    bool   `yaml:"auto_register"`
	AttachPriority  string `yaml:"attach_priority"` // window-title substring preferred by discovery
	AttachPollMs    int    `yaml:"attach_poll_ms"`
	LogLevel        string `yaml:"log_level"`
}

// DefaultRelay returns the baseline relay configuration.
func DefaultRelay() Relay {
	return Relay{
		Port:              8443,
		MaxConnsPerHost:   4,
		ConnectionTimeout: 60,
		KeepaliveInterval: 45,
		LogLevel:          "info",
	}
}

// DefaultHost returns the baseline host configuration.
func DefaultHost() Host {
	home, _ := os.UserHomeDir()
	return Host{
		RelayURL:        "wss://localhost:8443/ws",
		Cols:            80,
		Rows:            24,
		DeviceStorePath: filepath.Join(home, ".termrelay", "devices.json"),
		AutoRegister:    false,
		AttachPollMs:    100,
		LogLevel:        "info",
	}
}

// LoadRelay reads a relay config file, applying defaults for zero values.
// The signing secret may come from TERMRELAY_SECRET instead of the file.
func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if v := os.Getenv("TERMRELAY_SECRET"); v != "" {
		cfg.SigningSecret = v
	}
	if cfg.SigningSecret == "" {
		return cfg, fmt.Errorf("signing secret not set (config signing_secret or TERMRELAY_SECRET)")
	}
	if cfg.KeepaliveInterval >= cfg.ConnectionTimeout {
		return cfg, fmt.Errorf("keepalive_interval (%ds) must be shorter than connection_timeout (%ds)",
			cfg.KeepaliveInterval, cfg.ConnectionTimeout)
	}
	return cfg, nil
}

// LoadHost reads a host config file, applying defaults for zero values.
func LoadHost(path string) (Host, error) {
	cfg := DefaultHost()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if v := os.Getenv("TERMRELAY_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("TERMRELAY_TOKEN"); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}

// ConnTimeout returns the relay's per-connection read timeout.
func (r Relay) ConnTimeout() time.Duration {
	return time.Duration(r.ConnectionTimeout) * time.Second
}

// Keepalive returns the relay's application ping interval.
func (r Relay) Keepalive() time.Duration {
	return time.Duration(r.KeepaliveInterval) * time.Second
}

// AttachPoll returns the screen-buffer polling interval for attached
// sessions.
func (h Host) AttachPoll() time.Duration {
	return time.Duration(h.AttachPollMs) * time.Millisecond
}

func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
