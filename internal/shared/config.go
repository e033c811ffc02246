package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Source      ServerConfig   `toml:"source"`
	Destination ServerConfig   `toml:"destination"`
	Sync        SyncConfig     `toml:"sync"`
	Cache       CacheConfig    `toml:"cache"`
	Metadata    MetadataConfig `toml:"metadata"`
	Database    DatabaseConfig `toml:"database"`
	Log         LogConfig      `toml:"log"`
}

// ServerConfig locates a Plex Media Server and the owner token used against it.
type ServerConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// SyncConfig controls what is exported or imported and how hard the servers are driven.
type SyncConfig struct {
	Snapshot          string   `toml:"snapshot"`
	Users             []string `toml:"users"`
	Sections          []string `toml:"sections"`
	Workers           int      `toml:"workers"`
	UseCache          bool     `toml:"use_cache"`
	DryRun            bool     `toml:"dry_run"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Debug             bool     `toml:"debug"`
}

// CacheConfig locates the durable catalog cache. An empty dir keeps the cache in memory.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// MetadataConfig locates the metadata provider used to translate legacy agent ids.
type MetadataConfig struct {
	URL string `toml:"url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML to path, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the fields an export (forImport=false) or import needs.
func (c *Config) Validate(forImport bool) error {
	server, name := c.Source, "source"
	if forImport {
		server, name = c.Destination, "destination"
	}

	var missing []string
	if server.URL == "" {
		missing = append(missing, name+".url")
	}
	if server.Token == "" {
		missing = append(missing, name+".token")
	}
	if c.Sync.Snapshot == "" {
		missing = append(missing, "sync.snapshot")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("%w: sync.workers must be at least 1", ErrInvalidConfig)
	}
	if c.Sync.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: sync.requests_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}
