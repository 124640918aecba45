package dominject

import (
	"database/sql"

	"github.com/hazyhaar/dominject/internal/config"
)

// Config is the top-level dominject configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to open and decorate.
type PageConfig = config.PageConfig

// IntegrationConfig is the serialised form of an integration.
type IntegrationConfig = config.IntegrationConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// OpenIntegrationDB opens (creating if needed) an integrations database.
func OpenIntegrationDB(path string) (*sql.DB, error) {
	return config.OpenDB(path)
}
