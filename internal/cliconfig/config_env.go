package cliconfig

import "os"

// ApplyEnvConfig applies FRAMESTACK_* environment variables to cfg, skipping
// values whose flag was set explicitly.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("root", os.Getenv("FRAMESTACK_ROOT"), &cfg.Root)
	s.setString("compression", os.Getenv("FRAMESTACK_COMPRESSION"), &cfg.Compression)
	s.setString("backend", os.Getenv("FRAMESTACK_BACKEND"), &cfg.Backend)
	s.setString("tile-shape", os.Getenv("FRAMESTACK_TILE_SHAPE"), &cfg.TileShape)
	s.setString("dtype", os.Getenv("FRAMESTACK_DTYPE"), &cfg.Dtype)
	s.setString("catalog", os.Getenv("FRAMESTACK_CATALOG"), &cfg.Catalog)
	s.setString("log-level", os.Getenv("FRAMESTACK_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("window-size", os.Getenv("FRAMESTACK_WINDOW_SIZE"), &cfg.WindowSize); err != nil {
		return err
	}
	if err := s.setIntFromString("partitions", os.Getenv("FRAMESTACK_PARTITIONS"), &cfg.NumPartitions); err != nil {
		return err
	}
	if err := s.setIntFromString("partition-bytes", os.Getenv("FRAMESTACK_PARTITION_BYTES"), &cfg.PartitionBytes); err != nil {
		return err
	}
	if err := s.setIntFromString("tile-budget", os.Getenv("FRAMESTACK_TILE_BUDGET"), &cfg.TileBudget); err != nil {
		return err
	}

	if err := s.setDuration("debounce", os.Getenv("FRAMESTACK_DEBOUNCE"), &cfg.Debounce); err != nil {
		return err
	}
	if err := s.setDuration("snooze-timeout", os.Getenv("FRAMESTACK_SNOOZE_TIMEOUT"), &cfg.SnoozeTimeout); err != nil {
		return err
	}
	return nil
}
