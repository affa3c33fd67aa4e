package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Root           string `toml:"root"`
	Compression    string `toml:"compression"`
	Backend        string `toml:"backend"`
	WindowSize     int    `toml:"window_size"`
	NumPartitions  int    `toml:"partitions"`
	PartitionBytes int    `toml:"partition_bytes"`
	TileShape      string `toml:"tile_shape"`
	TileBudget     int    `toml:"tile_budget"`
	Dtype          string `toml:"dtype"`
	Catalog        string `toml:"catalog"`
	LogLevel       string `toml:"log_level"`
	Debounce       string `toml:"debounce"`
	SnoozeTimeout  string `toml:"snooze_timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.framestack/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".framestack", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("root", fc.Root, &cfg.Root)
	s.setString("compression", fc.Compression, &cfg.Compression)
	s.setString("backend", fc.Backend, &cfg.Backend)
	s.setString("tile-shape", fc.TileShape, &cfg.TileShape)
	s.setString("dtype", fc.Dtype, &cfg.Dtype)
	s.setString("catalog", fc.Catalog, &cfg.Catalog)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("window-size", fc.WindowSize, &cfg.WindowSize)
	s.setInt("partitions", fc.NumPartitions, &cfg.NumPartitions)
	s.setInt("partition-bytes", fc.PartitionBytes, &cfg.PartitionBytes)
	s.setInt("tile-budget", fc.TileBudget, &cfg.TileBudget)

	if err := s.setDuration("debounce", fc.Debounce, &cfg.Debounce); err != nil {
		return err
	}
	if err := s.setDuration("snooze-timeout", fc.SnoozeTimeout, &cfg.SnoozeTimeout); err != nil {
		return err
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
