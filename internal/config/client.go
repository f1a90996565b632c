package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPollInterval is how often the client re-fetches the message list
const DefaultPollInterval = time.Second

// ClientConfig holds the chat client configuration.
// Values come from the YAML file first, then TSUBUYAKI_* variables;
// command line flags are applied on top by the caller.
type ClientConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Username     string        `yaml:"username"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// PauseRefresh skips scheduled refreshes while a create/update/delete
	// is still waiting for its response.
	PauseRefresh bool   `yaml:"pause_refresh"`
	Watch        bool   `yaml:"watch"`
	LogFile      string `yaml:"log_file"`
}

// DefaultClientConfigPath returns ~/.config/tsubuyaki/config.yaml
func DefaultClientConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tsubuyaki", "config.yaml")
}

// LoadClient reads path (missing file is fine) and applies the environment.
func LoadClient(path string) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:      "http://localhost:8080",
		PollInterval: DefaultPollInterval,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read client config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse client config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("TSUBUYAKI_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TSUBUYAKI_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("TSUBUYAKI_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("TSUBUYAKI_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("TSUBUYAKI_PAUSE_REFRESH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("TSUBUYAKI_PAUSE_REFRESH: %w", err)
		}
		cfg.PauseRefresh = b
	}
	if v := os.Getenv("TSUBUYAKI_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("TSUBUYAKI_WATCH: %w", err)
		}
		cfg.Watch = b
	}
	if v := os.Getenv("TSUBUYAKI_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg, cfg.Validate()
}

// Validate checks the values that would make the client misbehave
func (c ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}
