package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Root:          "/test/root",
				Compression:   "gzip",
				WindowSize:    512,
				TileShape:     "8,8,8",
				Dtype:         "uint16",
				Debounce:      "500ms",
				SnoozeTimeout: "5m",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Root:          "/test/root",
				Compression:   "gzip",
				WindowSize:    512,
				TileShape:     "8,8,8",
				Dtype:         "uint16",
				Debounce:      500 * time.Millisecond,
				SnoozeTimeout: 5 * time.Minute,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Root:     "/config/root",
				LogLevel: "warn",
			},
			changed: map[string]bool{"root": true},
			initial: Config{
				Root:     "/flag/root",
				LogLevel: "info",
			},
			expected: Config{
				Root:     "/flag/root", // unchanged because flag was set
				LogLevel: "warn",
			},
		},
		{
			name:       "empty values keep defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    DefaultConfig(),
			expected:   DefaultConfig(),
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{SnoozeTimeout: "soon"},
			changed:    map[string]bool{},
			initial:    Config{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ApplyFileConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		`root = "/data/captures"`,
		`backend = "mmap"`,
		`partitions = 4`,
		`tile_shape = "16,930,16"`,
		`debounce = "250ms"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if fc.Root != "/data/captures" || fc.Backend != "mmap" || fc.NumPartitions != 4 {
		t.Errorf("unexpected file config: %+v", fc)
	}
	if fc.TileShape != "16,930,16" || fc.Debounce != "250ms" {
		t.Errorf("unexpected file config: %+v", fc)
	}

	if !FileExists(path) {
		t.Error("FileExists should report the config file")
	}
	if FileExists(filepath.Join(dir, "missing.toml")) {
		t.Error("FileExists should not report a missing file")
	}
}

func TestLoadFileConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFileConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("root = [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(path); err == nil {
		t.Error("expected error for malformed toml")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	if p == "" {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(p, filepath.Join(".framestack", "config.toml")) {
		t.Errorf("unexpected default path %q", p)
	}
}
