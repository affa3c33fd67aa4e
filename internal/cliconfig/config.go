package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qri-io/framestack"
)

// Config holds CLI configuration for framestack.
type Config struct {
	// Root is the directory dataset paths are resolved against.
	Root        string
	Compression string

	Backend        string
	WindowSize     int
	NumPartitions  int
	PartitionBytes int

	TileShape  string
	TileBudget int
	Dtype      string

	Catalog       string
	LogLevel      string
	Debounce      time.Duration
	SnoozeTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Root:           ".",
		Backend:        string(framestack.BackendBuffered),
		WindowSize:     framestack.DefaultWindowSize,
		PartitionBytes: framestack.DefaultPartitionBytes,
		TileBudget:     framestack.DefaultTileBudget,
		Dtype:          "float32",
		LogLevel:       "info",
		Debounce:       200 * time.Millisecond,
		SnoozeTimeout:  30 * time.Second,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Backend == "" {
		c.Backend = string(framestack.BackendBuffered)
	}
	if _, err := framestack.NewBackend(framestack.BackendKind(c.Backend)); err != nil {
		return err
	}
	if c.Backend == string(framestack.BackendMMap) && c.Compression != "" {
		return fmt.Errorf("compressed data cannot be memory mapped, use the buffered backend")
	}
	switch c.Compression {
	case "", "gzip", "zst":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}

	dt, err := framestack.ParseDtype(c.Dtype)
	if err != nil {
		return err
	}
	if err := dt.Numeric(); err != nil {
		return err
	}
	if _, err := ParseTileShape(c.TileShape); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	if c.WindowSize < 0 {
		return fmt.Errorf("window size must not be negative")
	}
	if c.NumPartitions < 0 {
		return fmt.Errorf("number of partitions must not be negative")
	}
	if c.PartitionBytes <= 0 {
		return fmt.Errorf("partition bytes must be positive")
	}
	if c.TileBudget <= 0 {
		return fmt.Errorf("tile budget must be positive")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive")
	}
	if c.SnoozeTimeout <= 0 {
		return fmt.Errorf("snooze timeout must be positive")
	}
	return nil
}

// ParseTileShape parses a comma separated list of extents such as
// "16,930,16". An empty string yields nil.
func ParseTileShape(s string) ([]int, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "()"))
	if s == "" {
		return nil, nil
	}
	var dims []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("tile shape %q: invalid extent %q", s, part)
		}
		dims = append(dims, n)
	}
	return dims, nil
}

// Store opens the local store at Root, decompressing on read when
// Compression is set.
func (c *Config) Store() (framestack.Store, error) {
	ls, err := framestack.NewLocalStore(c.Root)
	if err != nil {
		return nil, err
	}
	if c.Compression == "" {
		return ls, nil
	}
	return framestack.NewCompressedStore(ls, framestack.CompressionMeta{ID: c.Compression}), nil
}

// NewBackend returns the configured IO backend.
func (c *Config) NewBackend() (framestack.Backend, error) {
	b, err := framestack.NewBackend(framestack.BackendKind(c.Backend))
	if err != nil {
		return nil, err
	}
	if bb, ok := b.(*framestack.BufferedBackend); ok {
		bb.WindowSize = c.WindowSize
	}
	return b, nil
}

// DestDtype is the configured tile element type.
func (c *Config) DestDtype() (framestack.Dtype, error) {
	return framestack.ParseDtype(c.Dtype)
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
