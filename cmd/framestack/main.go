package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/qri-io/framestack/internal/cliconfig"
	"github.com/qri-io/framestack/log"
	_ "github.com/qri-io/framestack/raw"
	_ "github.com/qri-io/framestack/sectored"
)

var longHelp = strings.TrimSpace(`
Read detector frame stacks in tiles.

framestack detects the format of a capture, reports its structure and reads
it partition by partition, either as tiles of a fixed shape or as one
macrotile per partition. Configure via file, env, or flags.
`)

var exampleUsage = strings.TrimSpace(`
  framestack detect 'Capture52_.gtg_(34, 35, 1860, 2048)_uint16.raw'
  framestack inspect --root /data/captures scan_1.bin --add
  framestack tiles --tile-shape 16,930,16 --frames 0,1,2 scan_1.bin
  framestack watch /data/captures --catalog ~/.framestack/catalog.db
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries the resolved configuration to subcommands.
type app struct {
	cfg     cliconfig.Config
	cfgPath string
	out     io.Writer
	zl      zerolog.Logger
	log     log.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{cfg: cliconfig.DefaultConfig(), out: out, zl: zerolog.Nop(), log: log.NoopLogger{}}

	root := &cobra.Command{
		Use:           "framestack",
		Short:         "Read detector frame stacks in tiles",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(out)

	cfg := &a.cfg
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.framestack/config.toml)")
	pf.StringVar(&cfg.Root, "root", cfg.Root, "directory dataset paths are resolved against")
	pf.StringVar(&cfg.Compression, "compression", cfg.Compression, "codec of compressed captures (gzip, zst)")
	pf.StringVar(&cfg.Backend, "backend", cfg.Backend, "io backend (buffered, mmap)")
	pf.IntVar(&cfg.WindowSize, "window-size", cfg.WindowSize, "read window of the buffered backend in bytes")
	pf.IntVar(&cfg.NumPartitions, "partitions", cfg.NumPartitions, "number of partitions (0 derives it from --partition-bytes)")
	pf.IntVar(&cfg.PartitionBytes, "partition-bytes", cfg.PartitionBytes, "target payload bytes per partition")
	pf.StringVar(&cfg.TileShape, "tile-shape", cfg.TileShape, "tile shape, optionally led by the depth (default: full frames)")
	pf.IntVar(&cfg.TileBudget, "tile-budget", cfg.TileBudget, "bytes per tile used to derive the depth")
	pf.StringVar(&cfg.Dtype, "dtype", cfg.Dtype, "element type of tiles")
	pf.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "catalog database path")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "quiet period before a new capture is detected")
	pf.DurationVar(&cfg.SnoozeTimeout, "snooze-timeout", cfg.SnoozeTimeout, "idle time before the catalog is closed while watching")

	root.AddCommand(
		newDetectCmd(a),
		newInspectCmd(a),
		newTilesCmd(a),
		newMacrotileCmd(a),
		newBlocksCmd(a),
		newWatchCmd(a),
		newCatalogCmd(a),
	)
	return root
}

// load resolves configuration: defaults, then the config file, then
// FRAMESTACK_* env, with explicitly set flags taking precedence over both.
func (a *app) load(cmd *cobra.Command) error {
	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	zl, err := cliconfig.Logger(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	a.zl = zl
	a.log = log.Wrap(zl)
	a.zl.Debug().Interface("config", a.cfg).Msg("configuration")
	return nil
}

func main() {
	logger, _ := cliconfig.Logger("info")
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		logger.Error().Err(err).Msg("framestack")
		os.Exit(1)
	}
}
