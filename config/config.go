// Package config loads connection settings from a TOML file and turns them
// into connection options with sane defaults applied.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/quillmq/quillmq-go/connection"
)

type Config struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Version string `toml:"version"`

	UserAgent string `toml:"user_agent"`

	Features        map[string]any `toml:"features"`
	EnforceFeatures bool           `toml:"enforce_features"`
	DeflateLevel    int            `toml:"deflate_level"`

	TLS TLSConfig `toml:"tls"`

	DialTimeout      duration `toml:"dial_timeout"`
	ResponseWait     duration `toml:"response_wait"`
	ErrorWait        duration `toml:"error_wait"`
	ResponseInterval duration `toml:"response_interval"`

	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
}

type TLSConfig struct {
	// Verification name for the daemon's certificate; defaults to the
	// connection host
	ServerName string `toml:"server_name"`

	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// duration lets TOML values like "500ms" decode into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse failed: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 4150
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("config missing host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config port out of range: %d", c.Port)
	}
	if len(c.Version) > 4 {
		return fmt.Errorf("config version longer than 4 bytes: %s", c.Version)
	}
	return nil
}

// ConnectionOptions maps the file settings onto connection options;
// unset durations stay zero so the connection applies its own defaults.
func (c *Config) ConnectionOptions() connection.Options {
	var tlsConfig *tls.Config
	if c.TLS != (TLSConfig{}) {
		serverName := c.TLS.ServerName
		if serverName == "" {
			serverName = c.Host
		}
		tlsConfig = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		}
	}

	return connection.Options{
		Host:             c.Host,
		Port:             c.Port,
		Version:          c.Version,
		UserAgent:        c.UserAgent,
		Features:         c.Features,
		EnforceFeatures:  c.EnforceFeatures,
		DeflateLevel:     c.DeflateLevel,
		TLSConfig:        tlsConfig,
		DialTimeout:      time.Duration(c.DialTimeout),
		ResponseWait:     time.Duration(c.ResponseWait),
		ErrorWait:        time.Duration(c.ErrorWait),
		ResponseInterval: time.Duration(c.ResponseInterval),
	}
}
