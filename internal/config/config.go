// Package config handles hostreporter configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from the --config flag) is checked first.
// Then: ./config.yaml, ~/.config/hostreporter/config.yaml,
// /etc/hostreporter/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hostreporter", "config.yaml"))
	}

	paths = append(paths, "/etc/hostreporter/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all hostreporter configuration.
type Config struct {
	Daemon    DaemonConfig  `yaml:"daemon"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	Sleep     SleepConfig   `yaml:"sleep"`
	Metrics   MetricsConfig `yaml:"metrics"`
	DataDir   string        `yaml:"data_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
}

// DaemonConfig controls the pacing of the publishing loops.
type DaemonConfig struct {
	// IntervalMinutes is the status publish interval (default 5).
	IntervalMinutes int `yaml:"interval_minutes"`
	// SettleSec is the pause between discovery and the first status
	// round (default 5).
	SettleSec int `yaml:"settle_sec"`
	// HeartbeatSec is the "online" availability interval (default 60).
	HeartbeatSec int `yaml:"heartbeat_sec"`
}

// Interval returns the status publish interval as a duration.
func (d DaemonConfig) Interval() time.Duration {
	return time.Duration(d.IntervalMinutes) * time.Minute
}

// Settle returns the post-discovery settle delay as a duration.
func (d DaemonConfig) Settle() time.Duration {
	return time.Duration(d.SettleSec) * time.Second
}

// Heartbeat returns the availability heartbeat interval as a duration.
func (d DaemonConfig) Heartbeat() time.Duration {
	return time.Duration(d.HeartbeatSec) * time.Second
}

// MQTTConfig defines the broker connection and topic layout.
type MQTTConfig struct {
	Hostname  string `yaml:"hostname"`
	Port      int    `yaml:"port"`
	KeepAlive int    `yaml:"keep_alive"` // seconds between pings
	TLS       bool   `yaml:"tls"`
	TLSCACert string `yaml:"tls_ca_cert"` // optional PEM bundle
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`

	// DiscoveryPrefix is the Home Assistant discovery prefix
	// (default "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// BaseTopic is the prefix under which {host-slug}/... topics live
	// (default "home/nodes").
	BaseTopic string `yaml:"base_topic"`
	// QueueSize bounds the inbound command topic queue (default 8).
	QueueSize int `yaml:"queue_size"`
}

// Address returns the host:port pair to dial.
func (m MQTTConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Hostname, m.Port)
}

// SleepConfig controls host sleep/wake coordination.
type SleepConfig struct {
	// Enabled turns on logind PrepareForSleep monitoring. A pointer so
	// an omitted key can default to true.
	Enabled *bool `yaml:"enabled"`
}

// On reports whether sleep coordination is enabled.
func (s SleepConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// MetricsConfig defines the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the bind address for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Daemon.IntervalMinutes == 0 {
		c.Daemon.IntervalMinutes = 5
	}
	if c.Daemon.SettleSec == 0 {
		c.Daemon.SettleSec = 5
	}
	if c.Daemon.HeartbeatSec == 0 {
		c.Daemon.HeartbeatSec = 60
	}
	if c.MQTT.Hostname == "" {
		c.MQTT.Hostname = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "home/nodes"
	}
	if c.MQTT.QueueSize == 0 {
		c.MQTT.QueueSize = 8
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/hostreporter"
	}
}

// Validate reports configuration values that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Daemon.IntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("daemon.interval_minutes must be positive, got %d", c.Daemon.IntervalMinutes))
	}
	if c.Daemon.HeartbeatSec < 0 {
		errs = append(errs, fmt.Errorf("daemon.heartbeat_sec must be positive, got %d", c.Daemon.HeartbeatSec))
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port))
	}
	if c.MQTT.KeepAlive < 0 || c.MQTT.KeepAlive > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.keep_alive out of range: %d", c.MQTT.KeepAlive))
	}
	if c.MQTT.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("mqtt.queue_size must be positive, got %d", c.MQTT.QueueSize))
	}
	if c.MQTT.TLSCACert != "" && !c.MQTT.TLS {
		errs = append(errs, errors.New("mqtt.tls_ca_cert requires mqtt.tls: true"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	return errors.Join(errs...)
}
