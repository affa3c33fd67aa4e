package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qri-io/framestack"
	"github.com/qri-io/framestack/catalog"
	"github.com/qri-io/framestack/internal/cliconfig"
	"github.com/qri-io/framestack/internal/watch"
	"github.com/qri-io/framestack/snooze"
)

// openFlags select the format explicitly instead of detecting it.
type openFlags struct {
	format string
	params string
}

func addOpenFlags(cmd *cobra.Command, o *openFlags) {
	cmd.Flags().StringVar(&o.format, "format", "", "format name (default: detected)")
	cmd.Flags().StringVar(&o.params, "params", "", "format parameters as JSON, used with --format")
}

func (a *app) open(path string, o openFlags) (*framestack.DataSet, error) {
	store, err := a.cfg.Store()
	if err != nil {
		return nil, err
	}
	backend, err := a.cfg.NewBackend()
	if err != nil {
		return nil, err
	}

	format := o.format
	var params framestack.Params
	if o.params != "" {
		if format == "" {
			return nil, fmt.Errorf("%w: --params requires --format", framestack.ErrConfig)
		}
		if err := json.Unmarshal([]byte(o.params), &params); err != nil {
			return nil, framestack.ConfigError(fmt.Errorf("--params: %w", err))
		}
	}
	if format == "" {
		res, err := framestack.Detect(store, path)
		if err != nil {
			return nil, err
		}
		format, params = res.Format, res.Parameters
		a.zl.Debug().Str("path", path).Str("format", format).Msg("format detected")
	}
	if params == nil {
		params = framestack.Params{}
	}
	if _, ok := params["path"]; !ok {
		params["path"] = path
	}

	return framestack.Open(store, format, params,
		framestack.WithBackend(backend),
		framestack.WithLogger(a.log),
		framestack.WithNumPartitions(a.cfg.NumPartitions),
		framestack.WithPartitionBytes(a.cfg.PartitionBytes),
	)
}

// scheme builds the tiling scheme from --tile-shape, falling back to whole
// frames with a depth derived from the tile budget.
func (a *app) scheme(ds *framestack.DataSet, dest framestack.Dtype) (*framestack.TilingScheme, error) {
	dims, err := cliconfig.ParseTileShape(a.cfg.TileShape)
	if err != nil {
		return nil, framestack.ConfigError(err)
	}
	if dims == nil {
		dims = ds.Shape().Sig().Dims()
	}
	tileshape, err := framestack.NewShape(dims, 0)
	if err != nil {
		return nil, err
	}
	return framestack.MakeTilingScheme(tileshape, ds.Shape(),
		framestack.WithTileBudget(a.cfg.TileBudget),
		framestack.WithItemSize(dest.ItemSize()),
	)
}

// partitions yields partition i, or all of them when i is negative.
func partitions(ds *framestack.DataSet, i int) ([]*framestack.Partition, error) {
	if i >= 0 {
		p, err := ds.Partition(i)
		if err != nil {
			return nil, err
		}
		return []*framestack.Partition{p}, nil
	}
	var ps []*framestack.Partition
	for p := range ds.Partitions() {
		ps = append(ps, p)
	}
	return ps, nil
}

// parseFrames reads a frame selection such as "0,3,10-12" into an ROI over
// navSize frames. An empty selection string yields a nil ROI, selecting
// every frame.
func parseFrames(s string, navSize int) (framestack.ROI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	roi := framestack.NewROI(navSize, false)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: frames %q: %s", framestack.ErrConfig, s, part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("%w: frames %q: %s", framestack.ErrConfig, s, part)
			}
		}
		if start < 0 || end < start || end >= navSize {
			return nil, fmt.Errorf("%w: frames %q: %s out of range [0, %d)", framestack.ErrConfig, s, part, navSize)
		}
		for f := start; f <= end; f++ {
			roi[f] = true
		}
	}
	return roi, nil
}

type tileSummary struct {
	Partition int     `json:"partition"`
	Origin    []int   `json:"origin"`
	Shape     []int   `json:"shape"`
	Dtype     string  `json:"dtype"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
}

func summarize(partition int, t *framestack.Tile) tileSummary {
	s := tileSummary{
		Partition: partition,
		Origin:    append([]int(nil), t.Slice.Origin...),
		Shape:     t.Slice.Shape.Dims(),
		Dtype:     t.Data.Dtype.String(),
	}
	n := t.Data.Len()
	if n == 0 {
		return s
	}
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	sum := 0.0
	for i := 0; i < n; i++ {
		v := t.Data.At(i)
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += v
	}
	s.Mean = sum / float64(n)
	return s
}

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect PATH...",
		Short: "Detect the format of captures and print their open parameters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.cfg.Store()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			var errs []error
			for _, p := range args {
				res, err := framestack.Detect(store, p)
				if err != nil {
					a.zl.Warn().Str("path", p).Err(err).Msg("detect")
					errs = append(errs, err)
					continue
				}
				if err := enc.Encode(struct {
					Path string `json:"path"`
					*framestack.DetectResult
				}{p, res}); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
}

type inspection struct {
	Descriptor      *framestack.Descriptor  `json:"descriptor"`
	CacheKey        framestack.CacheKey     `json:"cache_key"`
	Digest          string                  `json:"digest"`
	Diagnostics     []framestack.Diagnostic `json:"diagnostics"`
	Valid           bool                    `json:"valid"`
	ValidationError string                  `json:"validation_error,omitempty"`
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		o   openFlags
		add bool
	)
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Print descriptor, cache key, diagnostics and validity of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.open(args[0], o)
			if err != nil {
				return err
			}
			key := ds.CacheKey()
			digest, err := key.Digest()
			if err != nil {
				return err
			}
			out := inspection{
				Descriptor:  ds.Descriptor(),
				CacheKey:    key,
				Digest:      digest,
				Diagnostics: ds.Diagnostics(),
				Valid:       true,
			}
			if err := ds.Validate(); err != nil {
				out.Valid = false
				out.ValidationError = err.Error()
			}

			if add {
				if a.cfg.Catalog == "" {
					return fmt.Errorf("%w: --add requires --catalog", framestack.ErrConfig)
				}
				ix, err := catalog.Open(a.cfg.Catalog)
				if err != nil {
					return err
				}
				defer ix.Close()
				if _, err := ix.Add(ds); err != nil {
					return err
				}
				a.zl.Info().Str("digest", digest).Str("catalog", a.cfg.Catalog).Msg("dataset cataloged")
			}

			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	addOpenFlags(cmd, &o)
	cmd.Flags().BoolVar(&add, "add", false, "record the dataset in the catalog")
	return cmd
}

func newTilesCmd(a *app) *cobra.Command {
	var (
		o         openFlags
		frames    string
		partition int
	)
	cmd := &cobra.Command{
		Use:   "tiles PATH",
		Short: "Read a capture tile by tile and print a summary per tile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.open(args[0], o)
			if err != nil {
				return err
			}
			dest, err := a.cfg.DestDtype()
			if err != nil {
				return err
			}
			scheme, err := a.scheme(ds, dest)
			if err != nil {
				return err
			}
			roi, err := parseFrames(frames, ds.Shape().NavSize())
			if err != nil {
				return err
			}
			ps, err := partitions(ds, partition)
			if err != nil {
				return err
			}
			a.zl.Debug().Stringer("scheme", scheme).Int("partitions", len(ps)).Msg("reading tiles")

			enc := json.NewEncoder(a.out)
			for _, p := range ps {
				for t, err := range p.Tiles(scheme, roi, dest) {
					if err != nil {
						return fmt.Errorf("partition %d: %w", p.Index(), err)
					}
					if err := enc.Encode(summarize(p.Index(), t)); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	addOpenFlags(cmd, &o)
	cmd.Flags().StringVar(&frames, "frames", "", "frames to read, e.g. 0,3,10-12 (default: all)")
	cmd.Flags().IntVar(&partition, "partition", -1, "partition to read (default: all)")
	return cmd
}

// blockSummary is one line of `framestack blocks` output.
type blockSummary struct {
	Sector       int            `json:"sector"`
	Offset       int64          `json:"offset"`
	FrameID      uint64         `json:"frame_id"`
	Attrs        map[string]int `json:"attrs,omitempty"`
	PayloadBytes int            `json:"payload_bytes"`
}

func newBlocksCmd(a *app) *cobra.Command {
	var (
		o      openFlags
		sector int
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "blocks PATH",
		Short: "List the blocks of one sector in file order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.open(args[0], o)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			n := 0
			for blk, err := range framestack.SectorBlocks(ds.Store(), ds.Source(), sector) {
				if err != nil {
					return err
				}
				if limit > 0 && n >= limit {
					break
				}
				n++
				if err := enc.Encode(blockSummary{
					Sector:       sector,
					Offset:       blk.Offset,
					FrameID:      blk.Header.FrameID,
					Attrs:        blk.Header.Attrs,
					PayloadBytes: len(blk.Payload),
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addOpenFlags(cmd, &o)
	cmd.Flags().IntVar(&sector, "sector", 0, "sector to list")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many blocks (default: all)")
	return cmd
}

func newMacrotileCmd(a *app) *cobra.Command {
	var (
		o         openFlags
		frames    string
		partition int
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "macrotile PATH",
		Short: "Read every selected frame of a partition into one tile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.open(args[0], o)
			if err != nil {
				return err
			}
			dest, err := a.cfg.DestDtype()
			if err != nil {
				return err
			}
			roi, err := parseFrames(frames, ds.Shape().NavSize())
			if err != nil {
				return err
			}
			p, err := ds.Partition(partition)
			if err != nil {
				return err
			}
			t, err := p.Macrotile(roi, dest)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := os.WriteFile(outPath, t.Data.Bytes, 0o644); err != nil {
					return err
				}
				a.zl.Info().Str("path", outPath).Int("bytes", len(t.Data.Bytes)).Msg("macrotile written")
			}
			return json.NewEncoder(a.out).Encode(summarize(p.Index(), t))
		},
	}
	addOpenFlags(cmd, &o)
	cmd.Flags().StringVar(&frames, "frames", "", "frames to read, e.g. 0,3,10-12 (default: all)")
	cmd.Flags().IntVar(&partition, "partition", 0, "partition to read")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the tile data to this file")
	return cmd
}

// catalogResource opens the catalog while the watcher is busy and closes it
// when the snooze manager reports the watcher idle.
type catalogResource struct {
	path string

	mu sync.Mutex
	ix *catalog.Index
}

func (c *catalogResource) up() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ix != nil {
		return nil
	}
	ix, err := catalog.Open(c.path)
	if err != nil {
		return err
	}
	c.ix = ix
	return nil
}

func (c *catalogResource) down() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ix == nil {
		return nil
	}
	err := c.ix.Close()
	c.ix = nil
	return err
}

func (c *catalogResource) add(ds *framestack.DataSet) (*catalog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ix == nil {
		return nil, fmt.Errorf("%w: catalog is closed", framestack.ErrResource)
	}
	return c.ix.Add(ds)
}

func newWatchCmd(a *app) *cobra.Command {
	var existing bool
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Detect captures as they land in a directory and catalog them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var (
				res *catalogResource
				mgr *snooze.Manager
			)
			if a.cfg.Catalog != "" {
				res = &catalogResource{path: a.cfg.Catalog}
				if err := res.up(); err != nil {
					return err
				}
				defer res.down()

				var err error
				mgr, err = snooze.New(res.up, res.down, a.cfg.SnoozeTimeout, nil, snooze.WithLogger(a.log))
				if err != nil {
					return err
				}
				defer mgr.Close()
				mgr.Subscriptions().Subscribe(snooze.TopicSnooze, func(snooze.Message) {
					a.zl.Debug().Str("catalog", a.cfg.Catalog).Msg("catalog closed while idle")
				})
			}

			backend, err := a.cfg.NewBackend()
			if err != nil {
				return err
			}

			var w *watch.Watcher
			handle := func(ev watch.Event) {
				if ev.Err != nil {
					if errors.Is(ev.Err, framestack.ErrNoMatch) {
						a.zl.Debug().Str("path", ev.Path).Msg("not a capture")
						return
					}
					a.zl.Warn().Str("path", ev.Path).Err(ev.Err).Msg("detect")
					return
				}
				ds, err := framestack.Open(w.Store(), ev.Result.Format, ev.Result.Parameters,
					framestack.WithBackend(backend),
					framestack.WithLogger(a.log),
					framestack.WithNumPartitions(a.cfg.NumPartitions),
					framestack.WithPartitionBytes(a.cfg.PartitionBytes),
				)
				if err != nil {
					a.zl.Warn().Str("path", ev.Path).Str("format", ev.Result.Format).Err(err).Msg("open")
					return
				}
				a.zl.Info().
					Str("path", ev.Path).
					Str("format", ds.Format()).
					Stringer("shape", ds.Shape()).
					Stringer("dtype", ds.Dtype()).
					Int("partitions", ds.NumPartitions()).
					Msg("capture detected")

				if mgr == nil {
					return
				}
				err = mgr.Run(func() error {
					e, err := res.add(ds)
					if err != nil {
						return err
					}
					a.zl.Info().Str("path", ev.Path).Str("digest", e.Digest).Bool("valid", e.Valid).Msg("capture cataloged")
					return nil
				})
				if err != nil {
					a.zl.Warn().Str("path", ev.Path).Err(err).Msg("catalog")
				}
			}

			w, err = watch.New(args[0], handle,
				watch.WithDebounce(a.cfg.Debounce),
				watch.WithExisting(existing),
				watch.WithLogger(a.log),
			)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&existing, "existing", false, "also detect captures already in the directory")
	return cmd
}

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List and prune cataloged datasets",
	}
	withIndex := func(fn func(ix *catalog.Index, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if a.cfg.Catalog == "" {
				return fmt.Errorf("%w: no catalog configured, use --catalog", framestack.ErrConfig)
			}
			ix, err := catalog.Open(a.cfg.Catalog)
			if err != nil {
				return err
			}
			defer ix.Close()
			return fn(ix, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every cataloged dataset",
		Args:  cobra.NoArgs,
		RunE: withIndex(func(ix *catalog.Index, args []string) error {
			entries, err := ix.List()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.out)
			for _, e := range entries {
				if err := enc.Encode(struct {
					Digest string `json:"digest"`
					Format string `json:"format"`
					Valid  bool   `json:"valid"`
					Added  string `json:"added"`
				}{e.Digest, e.Format, e.Valid, e.Added.Format(time.RFC3339)}); err != nil {
					return err
				}
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm DIGEST...",
		Short: "Remove datasets from the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: withIndex(func(ix *catalog.Index, args []string) error {
			for _, d := range args {
				found, err := ix.Delete(d)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%w: dataset %s", framestack.ErrNotfound, d)
				}
				a.zl.Info().Str("digest", d).Msg("removed")
			}
			return nil
		}),
	})
	return cmd
}
