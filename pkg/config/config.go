// Package config loads the optional YAML configuration of filehttp.
package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/simonpasquier/filehttp/pkg/queue"
	"github.com/simonpasquier/filehttp/pkg/server"
)

// Config holds the settings that aren't positional arguments.
type Config struct {
	// Connection is "keep-alive" or "close".
	Connection string `yaml:"connection,omitempty"`
	// MaxRequestSize caps the request buffer. 0 means no limit.
	MaxRequestSize int    `yaml:"max_request_size,omitempty"`
	MetricsAddress string `yaml:"metrics_address,omitempty"`
	TFTPAddress    string `yaml:"tftp_address,omitempty"`
	LogLevel       string `yaml:"log_level,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Connection:     string(server.KeepAlive),
		MaxRequestSize: 1 << 20,
		LogLevel:       "info",
	}
}

// Load parses a YAML document on top of the defaults. Unknown keys are
// rejected.
func Load(s string) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict([]byte(s), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the given YAML file.
func LoadFile(filename string) (*Config, error) {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading configuration file")
	}
	cfg, err := Load(string(content))
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", filename)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if _, err := server.ParseConnectionPolicy(c.Connection); err != nil {
		return err
	}
	if c.MaxRequestSize < 0 {
		return errors.Errorf("max_request_size must not be negative, got %d", c.MaxRequestSize)
	}
	if min := queue.HeaderSize + server.InitialSlack; c.MaxRequestSize > 0 && c.MaxRequestSize < min {
		return errors.Errorf("max_request_size must be at least %d bytes, got %d", min, c.MaxRequestSize)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
