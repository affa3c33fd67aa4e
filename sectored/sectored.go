// Package sectored reads multi-sector block containers. A detector writes
// each frame as a fixed number of blocks to every one of several sector files
// named <base><n>.bin (n counting from 1); each block carries a header with
// the frame id and the region of the frame its payload covers. Sectors start
// recording at slightly different times, so the first frames are dropped
// until all sectors agree on a common frame id.
//
// Importing the package registers the "sectored" format.
package sectored

import (
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/qri-io/framestack"
)

// FormatName is the registered name of the format.
const FormatName = "sectored"

// MaxSectors bounds the number of sector files looked up for a dataset.
const MaxSectors = 64

// maxSyncBlocks bounds the number of blocks scanned per sector while
// synchronizing.
const maxSyncBlocks = 1 << 16

func init() {
	framestack.Register(Format{})
}

// Format implements framestack.Format for sectored block containers.
//
// Parameters:
//
//	path       a sector file (<base><n>.bin) or the acquisition's <base>.gtg file
//	nav_shape  optional navigation extents; defaults to the number of
//	           synchronized frames
type Format struct{}

var _ framestack.Format = Format{}

func (Format) Name() string { return FormatName }

var sectorName = regexp.MustCompile(`^(.*_)([0-9]+)\.bin$`)

// sectorBase returns the common prefix of the sector file keys belonging to p.
func sectorBase(p string) (string, bool) {
	if strings.HasSuffix(p, ".gtg") {
		return strings.TrimSuffix(p, ".gtg"), true
	}
	if m := sectorName.FindStringSubmatch(p); m != nil {
		return m[1], true
	}
	return "", false
}

func sectorKey(base string, n int) string {
	return base + strconv.Itoa(n) + ".bin"
}

// sectorKeys lists the sector files present in store for base.
func sectorKeys(store framestack.Store, base string) ([]string, error) {
	var keys []string
	for n := 1; n <= MaxSectors; n++ {
		key := sectorKey(base, n)
		_, err := store.Stat(key)
		if errors.Is(err, framestack.ErrNotfound) {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Detect recognizes sector and .gtg file names whose first sector starts
// with a valid block header.
func (Format) Detect(store framestack.Store, p string) (framestack.Params, bool, error) {
	base, ok := sectorBase(path.Clean(p))
	if !ok {
		return nil, false, nil
	}
	key := sectorKey(base, 1)
	size, err := store.Stat(key)
	if errors.Is(err, framestack.ErrNotfound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if size < HeaderSize {
		return nil, false, nil
	}
	// stream the first header so compressed sectors are not spooled
	rc, err := store.Get(key)
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rc, b); err != nil {
		return nil, false, framestack.FormatError(fmt.Errorf("%s: %w", key, err))
	}
	if _, err := decodeHeader(b); err != nil {
		return nil, false, nil
	}
	return framestack.Params{"path": p}, true, nil
}

func (Format) Open(store framestack.Store, params framestack.Params) (framestack.FrameSource, error) {
	p, err := params.String("path")
	if err != nil {
		return nil, err
	}
	base, ok := sectorBase(path.Clean(p))
	if !ok {
		return nil, framestack.ConfigError(fmt.Errorf("%s is not a sector or .gtg file", p))
	}
	keys, err := sectorKeys(store, base)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, framestack.FormatError(fmt.Errorf("no sector files for %s", p))
	}

	src, err := synchronize(store, keys)
	if err != nil {
		return nil, err
	}

	frames := src.frames
	nav := []int{frames}
	if _, ok := params["nav_shape"]; ok {
		if nav, err = params.Ints("nav_shape"); err != nil {
			return nil, err
		}
	}
	shape, err := framestack.NewShape(append(nav, src.height, src.width), 2)
	if err != nil {
		return nil, err
	}
	if shape.NavSize() > frames {
		return nil, framestack.FormatError(fmt.Errorf("nav_shape %v needs %d frames, sectors hold %d", nav, shape.NavSize(), frames))
	}
	src.shape = shape
	return src, nil
}

// sectorSync is what synchronization learned about one sector.
type sectorSync struct {
	info framestack.SectorInfo
	// first frame id in the file and number of blocks skipped before the
	// synchronized frame.
	fileFirstID uint64
	skipped     int64
	layout      []header
}

type source struct {
	shape   framestack.Shape
	dtype   framestack.Dtype
	height  int
	width   int
	frames  int
	syncID  uint64
	sectors []sectorSync
}

// synchronize finds, in every sector, the first block of the earliest frame
// that is complete in all sectors. A sector's first frame id may belong to a
// frame whose leading blocks were not recorded, so it is never used.
func synchronize(store framestack.Store, keys []string) (*source, error) {
	r, err := (&framestack.BufferedBackend{}).Open(store, keys)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	readHeader := func(i int, off int64) (header, error) {
		b, err := r.ReadRegion(i, off, HeaderSize)
		if err != nil {
			return header{}, err
		}
		h, err := decodeHeader(b)
		if err != nil {
			return header{}, framestack.FormatError(fmt.Errorf("%s at %d: %w", keys[i], off, err))
		}
		return h, nil
	}

	src := &source{sectors: make([]sectorSync, len(keys))}
	sizes := make([]int64, len(keys))
	var target uint64
	for i, key := range keys {
		size, err := r.Size(i)
		if err != nil {
			return nil, err
		}
		sizes[i] = size
		h, err := readHeader(i, 0)
		if err != nil {
			return nil, err
		}
		dt, err := h.dtype()
		if err != nil {
			return nil, framestack.FormatError(fmt.Errorf("%s: %w", key, err))
		}
		if i == 0 {
			src.dtype, src.height, src.width = dt, int(h.Height), int(h.Width)
		} else if dt != src.dtype || int(h.Height) != src.height || int(h.Width) != src.width {
			return nil, framestack.FormatError(fmt.Errorf("%s holds %s frames of %dx%d, %s holds %s of %dx%d",
				key, dt, h.Width, h.Height, keys[0], src.dtype, src.width, src.height))
		}
		src.sectors[i] = sectorSync{
			info:        framestack.SectorInfo{Key: key, BlockSize: int64(HeaderSize) + int64(h.PayloadSize)},
			fileFirstID: h.FrameID,
		}
		target = max(target, h.FrameID+1)
	}

	frames := -1
	for i := range src.sectors {
		sec := &src.sectors[i]
		bs := sec.info.BlockSize
		var off int64
		var h header
		for k := 0; ; k++ {
			if k >= maxSyncBlocks || off+bs > sizes[i] {
				return nil, framestack.FormatError(fmt.Errorf("%s: frame id %d not found, cannot synchronize sectors", sec.info.Key, target))
			}
			if h, err = readHeader(i, off); err != nil {
				return nil, err
			}
			if h.FrameID == target {
				break
			}
			if h.FrameID > target {
				return nil, framestack.FormatError(fmt.Errorf("%s: frame id %d missing, found %d", sec.info.Key, target, h.FrameID))
			}
			if int64(HeaderSize)+int64(h.PayloadSize) != bs {
				return nil, framestack.FormatError(fmt.Errorf("%s: block size changes at %d", sec.info.Key, off))
			}
			off += bs
		}
		sec.info.Offset = off
		sec.info.FirstFrameID = target
		sec.skipped = off / bs

		for o := off; o+bs <= sizes[i]; o += bs {
			h, err := readHeader(i, o)
			if err != nil {
				return nil, err
			}
			if h.FrameID != target {
				break
			}
			if int64(HeaderSize)+int64(h.PayloadSize) != bs {
				return nil, framestack.FormatError(fmt.Errorf("%s: block size changes at %d", sec.info.Key, o))
			}
			sec.layout = append(sec.layout, h)
		}
		sec.info.BlocksPerFrame = len(sec.layout)

		n := int((sizes[i] - off) / (bs * int64(len(sec.layout))))
		if frames < 0 || n < frames {
			frames = n
		}
	}
	src.frames = frames
	src.syncID = target
	return src, nil
}

func (s *source) Shape() framestack.Shape { return s.shape }

func (s *source) Dtype() framestack.Dtype { return s.dtype }

func (s *source) Sectors() []framestack.SectorInfo {
	out := make([]framestack.SectorInfo, len(s.sectors))
	for i, sec := range s.sectors {
		out[i] = sec.info
	}
	return out
}

func (s *source) Blocks() []framestack.BlockPlacement {
	var out []framestack.BlockPlacement
	for i, sec := range s.sectors {
		for k, h := range sec.layout {
			out = append(out, h.placement(i, k))
		}
	}
	return out
}

func (s *source) HeaderSize() int { return HeaderSize }

func (s *source) DecodeHeader(b []byte) (framestack.BlockHeader, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return framestack.BlockHeader{}, err
	}
	return h.blockHeader(), nil
}

// Validate checks that the last frame of every sector has the block layout
// learned from the first.
func (s *source) Validate(store framestack.Store) error {
	keys := make([]string, len(s.sectors))
	for i, sec := range s.sectors {
		keys[i] = sec.info.Key
	}
	r, err := (&framestack.BufferedBackend{WindowSize: HeaderSize}).Open(store, keys)
	if err != nil {
		return err
	}
	defer r.Close()

	last := int64(s.shape.NavSize() - 1)
	for i, sec := range s.sectors {
		bpf := int64(sec.info.BlocksPerFrame)
		for k, want := range sec.layout {
			off := sec.info.Offset + (last*bpf+int64(k))*sec.info.BlockSize
			b, err := r.ReadRegion(i, off, HeaderSize)
			if err != nil {
				return err
			}
			h, err := decodeHeader(b)
			if err != nil {
				return fmt.Errorf("%s at %d: %w", sec.info.Key, off, err)
			}
			if h.X0 != want.X0 || h.Y0 != want.Y0 || h.X1 != want.X1 || h.Y1 != want.Y1 {
				return fmt.Errorf("%s: block %d of frame %d covers (%d,%d)-(%d,%d), want (%d,%d)-(%d,%d)",
					sec.info.Key, k, last, h.X0, h.Y0, h.X1, h.Y1, want.X0, want.Y0, want.X1, want.Y1)
			}
			if int(h.Sector) != int(want.Sector) {
				return fmt.Errorf("%s: block %d of frame %d claims sector %d, want %d", sec.info.Key, k, last, h.Sector, want.Sector)
			}
		}
	}
	return nil
}

func (s *source) Diagnostics() []framestack.Diagnostic {
	firstIDs := make([]uint64, len(s.sectors))
	skipped := make([]int64, len(s.sectors))
	for i, sec := range s.sectors {
		firstIDs[i] = sec.fileFirstID
		skipped[i] = sec.skipped
	}
	return []framestack.Diagnostic{
		{Name: "sync_frame_id", Value: s.syncID},
		{Name: "file_first_frame_ids", Value: firstIDs},
		{Name: "skipped_blocks", Value: skipped},
		{Name: "synchronized_frames", Value: s.frames},
	}
}
