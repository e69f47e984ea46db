package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML schema. Defaults come from Default(); a config file
// overrides them, and CLI flags override the file. Validation occurs in
// Validate().
type Config struct {
	Version     int         `yaml:"version"`
	General     General     `yaml:"general"`
	Network     Network     `yaml:"network"`
	Concurrency Concurrency `yaml:"concurrency"`
	Filters     Filters     `yaml:"filters"`
	Fallback    Fallback    `yaml:"fallback"`
	Logging     Logging     `yaml:"logging"`
	Metrics     Metrics     `yaml:"metrics"`
	UI          UIOptions   `yaml:"ui"`
}

type General struct {
	// DownloadRoot is the directory that receives the Downloads/ tree.
	DownloadRoot string `yaml:"download_root"`
	// DataRoot holds the history database and lock file.
	DataRoot string `yaml:"data_root"`
	// URLsFile is the newline-delimited batch list, truncated after a
	// fully crawled run.
	URLsFile string `yaml:"urls_file"`
	// SessionLog receives one failed source URL per line.
	SessionLog string `yaml:"session_log"`
}

type Network struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	Referer        string `yaml:"referer"`
	StatusPage     string `yaml:"status_page"`
}

type Concurrency struct {
	// FastWorkers bounds fast resolution and download slots.
	FastWorkers int `yaml:"fast_workers"`
	// RenderWorkers bounds fallback browser contexts.
	RenderWorkers int     `yaml:"render_workers"`
	MaxRetries    int     `yaml:"max_retries"`
	Backoff       Backoff `yaml:"backoff"`
	// HostRPS throttles fast-path page fetches per second. Zero disables.
	HostRPS float64 `yaml:"host_rps"`
}

type Backoff struct {
	MinMS int `yaml:"min_ms"`
	MaxMS int `yaml:"max_ms"`
}

type Filters struct {
	Ignore  []string `yaml:"ignore"`
	Include []string `yaml:"include"`
}

type Fallback struct {
	// Browser is the playwright browser to launch: chromium|firefox.
	Browser string `yaml:"browser"`
	// WaitMS bounds the wait for the media element to appear.
	WaitMS   int  `yaml:"wait_ms"`
	Headless bool `yaml:"headless"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // human|json
}

type Metrics struct {
	PrometheusTextfile MetricsTextfile `yaml:"prometheus_textfile"`
}

type MetricsTextfile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type UIOptions struct {
	Disabled bool `yaml:"disabled"`
	TUI      bool `yaml:"tui"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Version: 1,
		General: General{
			DownloadRoot: ".",
			DataRoot:     defaultDataRoot(),
			URLsFile:     "URLs.txt",
			SessionLog:   "session_log.txt",
		},
		Network: Network{
			TimeoutSeconds: 30,
			UserAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) " +
				"Gecko/20100101 Firefox/117.0",
			Referer:    "https://get.bunkrr.su/",
			StatusPage: "https://status.bunkr.ru/",
		},
		Concurrency: Concurrency{
			FastWorkers:   8,
			RenderWorkers: 2,
			MaxRetries:    3,
			Backoff:       Backoff{MinMS: 500, MaxMS: 16000},
			HostRPS:       4,
		},
		Fallback: Fallback{
			Browser:  "firefox",
			WaitMS:   25000,
			Headless: true,
		},
		Logging: Logging{Level: "info", Format: "human"},
	}
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bunkrgrab"
	}
	return filepath.Join(home, ".config", "bunkrgrab")
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists, otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Concurrency.FastWorkers <= 0 {
		return errors.New("concurrency.fast_workers must be positive")
	}
	if c.Concurrency.RenderWorkers <= 0 {
		return errors.New("concurrency.render_workers must be positive")
	}
	if c.Concurrency.MaxRetries < 1 {
		return errors.New("concurrency.max_retries must be at least 1")
	}
	if c.Concurrency.Backoff.MinMS <= 0 || c.Concurrency.Backoff.MaxMS < c.Concurrency.Backoff.MinMS {
		return errors.New("concurrency.backoff min/max are inconsistent")
	}
	if c.Network.TimeoutSeconds <= 0 {
		return errors.New("network.timeout_seconds must be positive")
	}
	switch c.Fallback.Browser {
	case "", "chromium", "firefox":
	default:
		return fmt.Errorf("fallback.browser: unsupported %q", c.Fallback.Browser)
	}
	switch c.Logging.Format {
	case "", "human", "json":
	default:
		return fmt.Errorf("logging.format: unsupported %q", c.Logging.Format)
	}
	if c.UI.Disabled && c.UI.TUI {
		return errors.New("ui.disabled and ui.tui are mutually exclusive")
	}
	return nil
}
