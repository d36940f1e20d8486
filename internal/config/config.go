// Package config loads downshift.toml and resolves named environments into
// connection strings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project configuration file looked up from the working
// directory towards the project root.
const FileName = "downshift.toml"

const (
	DefaultOutputDir            = "downshift-exports"
	DefaultBatchSize            = 1000
	DefaultCompressionThreshold = int64(1 << 20)
	DefaultConnectTimeout       = 10 * time.Second
)

// EnvironmentConfig describes a single named environment from downshift.toml.
type EnvironmentConfig struct {
	SourceURL  string `toml:"source_url"`
	TargetURL  string `toml:"target_url"`
	StagingURL string `toml:"staging_url"`
	StateURL   string `toml:"state_url"`
}

// Config is the project configuration.
type Config struct {
	DefaultEnvironment        string                       `toml:"default_environment"`
	OutputDir                 string                       `toml:"output_dir"`
	CatalogPath               string                       `toml:"catalog_path"`
	BatchSize                 int                          `toml:"batch_size"`
	CompressionThresholdBytes int64                        `toml:"compression_threshold_bytes"`
	ConnectTimeout            string                       `toml:"connect_timeout"`
	Environments              map[string]EnvironmentConfig `toml:"environments"`
	ConfigFilePath            string                       `toml:"-"`

	configDir string
}

// LoadConfig finds downshift.toml in the working directory or a parent,
// stopping at the project root. No file yields an empty config.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig starting at dir.
func LoadConfigFrom(startDir string) (*Config, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return ReadConfig(configPath)
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// ReadConfig parses one config file.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if config.BatchSize < 0 {
		return nil, fmt.Errorf("%s: batch_size must be positive", path)
	}
	if config.CompressionThresholdBytes < 0 {
		return nil, fmt.Errorf("%s: compression_threshold_bytes must be positive", path)
	}
	if _, err := config.Timeout(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	config.ConfigFilePath = path
	config.configDir = filepath.Dir(path)
	return &config, nil
}

// ConfigDir is the directory holding the config file, or "" without one.
func (c *Config) ConfigDir() string {
	if c == nil {
		return ""
	}
	return c.configDir
}

// Resolve makes a relative path relative to the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.ConfigDir() == "" {
		return path
	}
	return filepath.Join(c.ConfigDir(), path)
}

// ExportDir returns the artifact root directory.
func (c *Config) ExportDir() string {
	if c == nil || c.OutputDir == "" {
		if c == nil {
			return DefaultOutputDir
		}
		return c.Resolve(DefaultOutputDir)
	}
	return c.Resolve(c.OutputDir)
}

// CatalogFile returns the catalog path, or "" for the built-in catalog.
func (c *Config) CatalogFile() string {
	if c == nil {
		return ""
	}
	return c.Resolve(c.CatalogPath)
}

// Batch returns the export batch size.
func (c *Config) Batch() int {
	if c == nil || c.BatchSize == 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// CompressionThreshold returns the artifact size above which gzip is used.
func (c *Config) CompressionThreshold() int64 {
	if c == nil || c.CompressionThresholdBytes == 0 {
		return DefaultCompressionThreshold
	}
	return c.CompressionThresholdBytes
}

// Timeout returns the connection acquisition timeout.
func (c *Config) Timeout() (time.Duration, error) {
	if c == nil || c.ConnectTimeout == "" {
		return DefaultConnectTimeout, nil
	}
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid connect_timeout %q: %w", c.ConnectTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("connect_timeout must be positive")
	}
	return d, nil
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return true
	}
	return false
}
