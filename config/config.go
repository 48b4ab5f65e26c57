// Package config loads the agent configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotside-studios/closet-nfc/nfc"
)

// Config is the complete agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	NATS     NATSConfig     `yaml:"nats"`
	NFC      NFCConfig      `yaml:"nfc"`
}

type ServerConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
	// MDNS advertises the agent on the local network.
	MDNS bool `yaml:"mdns"`
	// AllowedOrigins restricts device socket origins; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// Dir holds the local CA and server certificate.
	Dir string `yaml:"dir"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	// URL is a redis:// URL; empty disables the tag cache.
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

type MQTTConfig struct {
	// Host is the broker host; empty disables MQTT.
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	CACert      string `yaml:"ca_cert"`
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type NATSConfig struct {
	// URL is the NATS server URL; empty disables NATS.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// NFCConfig holds session timings.
type NFCConfig struct {
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	Cooldown      time.Duration `yaml:"cooldown"`
	ErrorGrace    time.Duration `yaml:"error_grace"`
	DeviceTimeout time.Duration `yaml:"device_timeout"`
}

// Timings converts the section into coordinator timings.
func (c NFCConfig) Timings() nfc.Timings {
	return nfc.Timings{
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		SettleDelay:   c.SettleDelay,
		VerifyTimeout: c.VerifyTimeout,
		Cooldown:      c.Cooldown,
		ErrorGrace:    c.ErrorGrace,
	}
}

// DefaultDir is the per-user directory for certificates and the database.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "closet-nfc"
	}
	return filepath.Join(dir, "closet-nfc")
}

func Default() *Config {
	t := nfc.DefaultTimings()
	return &Config{
		Server: ServerConfig{
			Addr: ":18443",
			TLS:  TLSConfig{Enabled: true, Dir: DefaultDir()},
			MDNS: true,
		},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "closet.db"},
		Redis:    RedisConfig{TTL: 30 * time.Second},
		MQTT:     MQTTConfig{Port: 8883, ClientID: "closet-nfc", TopicPrefix: "closet"},
		NATS:     NATSConfig{SubjectPrefix: "closet"},
		NFC: NFCConfig{
			ReadTimeout:   t.ReadTimeout,
			WriteTimeout:  t.WriteTimeout,
			SettleDelay:   t.SettleDelay,
			VerifyTimeout: t.VerifyTimeout,
			Cooldown:      t.Cooldown,
			ErrorGrace:    t.ErrorGrace,
			DeviceTimeout: 60 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	timings := map[string]time.Duration{
		"nfc.read_timeout":   c.NFC.ReadTimeout,
		"nfc.write_timeout":  c.NFC.WriteTimeout,
		"nfc.settle_delay":   c.NFC.SettleDelay,
		"nfc.verify_timeout": c.NFC.VerifyTimeout,
		"nfc.cooldown":       c.NFC.Cooldown,
		"nfc.error_grace":    c.NFC.ErrorGrace,
		"nfc.device_timeout": c.NFC.DeviceTimeout,
	}
	for name, d := range timings {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.MQTT.Host != "" && (c.MQTT.ClientCert == "") != (c.MQTT.ClientKey == "") {
		return fmt.Errorf("mqtt.client_cert and mqtt.client_key must be set together")
	}
	return nil
}
