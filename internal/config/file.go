// CLAUDE:SUMMARY dominject config: YAML file (browser, pages, integrations, sinks, http) with defaults, and conversion of integration definitions into inject.Integration.
// Package config handles dominject configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser      BrowserConfig       `yaml:"browser"`
	Pages        []PageConfig        `yaml:"pages"`
	Integrations []IntegrationConfig `yaml:"integrations"`
	// Debounce is the default quiet period for integrations that set none.
	Debounce time.Duration `yaml:"debounce"`
	Sinks    []SinkConfig  `yaml:"sinks"`
	HTTP     HTTPConfig    `yaml:"http"`
	// Database holds extra integrations in the inject_integrations table.
	Database string `yaml:"database"`
}

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headful          bool          `yaml:"headful"`
	UserDataDir      string        `yaml:"user_data_dir"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	MemoryLimit      int64         `yaml:"memory_limit"`
}

// PageConfig is a page to open and decorate.
type PageConfig struct {
	ID           string   `yaml:"id"`
	URL          string   `yaml:"url"`
	Integrations []string `yaml:"integrations"`
	Stealth      bool     `yaml:"stealth"`
	// Alert shows the clicked content in the page as well as in the sinks.
	Alert bool `yaml:"alert"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | sqlite
	Path string `yaml:"path"` // file instead of stdout; database file for sqlite
}

// HTTPConfig enables the status and rescan endpoints.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare applies defaults and validates a Config built in code.
func (c *Config) Prepare() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 150 * time.Millisecond
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %s: missing url", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sqlite sink requires a path")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
