// Package raw reads header-less frame stacks: one file holding every frame
// back to back in a single element type, optionally after a fixed-size
// preamble. Importing the package registers the "raw" format.
package raw

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/qri-io/framestack"
)

// FormatName is the registered name of the format.
const FormatName = "raw"

func init() {
	framestack.Register(Format{})
}

// Format implements framestack.Format for raw files.
//
// Parameters:
//
//	path        store key of the file
//	nav_shape   navigation extents, e.g. [34, 35]
//	sig_shape   signal extents, e.g. [1860, 2048]
//	dtype       element type, e.g. "<u2" or "uint16"
//	sync_offset bytes to skip at the start of the file (default 0)
type Format struct{}

var _ framestack.Format = Format{}

func (Format) Name() string { return FormatName }

// referenceName matches names such as "Capture52_.gtg_(34, 35, 1860, 2048)_uint16.raw",
// which spell out the shape and element type of the file.
var referenceName = regexp.MustCompile(`_\(([0-9, ]+)\)_([a-z0-9<>|]+)\.raw$`)

// Detect recognizes raw files whose name spells out shape and type. The last
// two dimensions are taken as the signal shape. The file size must match.
func (Format) Detect(store framestack.Store, p string) (framestack.Params, bool, error) {
	m := referenceName.FindStringSubmatch(path.Base(p))
	if m == nil {
		return nil, false, nil
	}
	var dims []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, false, nil
		}
		dims = append(dims, n)
	}
	if len(dims) < 3 {
		return nil, false, nil
	}
	dt, err := framestack.ParseDtype(m[2])
	if err != nil || dt.Numeric() != nil {
		return nil, false, nil
	}

	size, err := store.Stat(p)
	if err != nil {
		return nil, false, err
	}

	want := int64(dt.ItemSize())
	for _, d := range dims {
		want *= int64(d)
	}
	if size != want {
		return nil, false, nil
	}
	return framestack.Params{
		"path":      p,
		"nav_shape": dims[:len(dims)-2],
		"sig_shape": dims[len(dims)-2:],
		"dtype":     dt.String(),
	}, true, nil
}

func (Format) Open(store framestack.Store, params framestack.Params) (framestack.FrameSource, error) {
	key, err := params.String("path")
	if err != nil {
		return nil, err
	}
	nav, err := params.Ints("nav_shape")
	if err != nil {
		return nil, err
	}
	sig, err := params.Ints("sig_shape")
	if err != nil {
		return nil, err
	}
	dts, err := params.String("dtype")
	if err != nil {
		return nil, err
	}
	dt, err := framestack.ParseDtype(dts)
	if err != nil {
		return nil, err
	}
	offset, err := params.Int("sync_offset", 0)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, framestack.ConfigError(fmt.Errorf("negative sync_offset %d", offset))
	}
	shape, err := framestack.NewShape(append(append([]int(nil), nav...), sig...), len(sig))
	if err != nil {
		return nil, err
	}

	size, err := store.Stat(key)
	if err != nil {
		return nil, err
	}

	frameBytes := int64(shape.SigSize() * dt.ItemSize())
	need := int64(offset) + int64(shape.NavSize())*frameBytes
	if size < need {
		return nil, framestack.FormatError(fmt.Errorf("%s holds %d bytes, shape %s of %s needs %d", key, size, shape, dt, need))
	}
	return &source{key: key, shape: shape, dtype: dt, offset: int64(offset), frameBytes: frameBytes, size: size}, nil
}

// source is the FrameSource of a raw file: one sector, one block per frame
// covering the whole frame, no headers.
type source struct {
	key        string
	shape      framestack.Shape
	dtype      framestack.Dtype
	offset     int64
	frameBytes int64
	size       int64
}

func (s *source) Shape() framestack.Shape { return s.shape }

func (s *source) Dtype() framestack.Dtype { return s.dtype }

func (s *source) Sectors() []framestack.SectorInfo {
	return []framestack.SectorInfo{{
		Key:            s.key,
		Offset:         s.offset,
		BlockSize:      s.frameBytes,
		BlocksPerFrame: 1,
	}}
}

func (s *source) Blocks() []framestack.BlockPlacement {
	sig := s.shape.Sig()
	return []framestack.BlockPlacement{{
		Sig: framestack.Slice{Origin: make([]int, sig.Len()), Shape: sig},
	}}
}

func (s *source) HeaderSize() int { return 0 }

func (s *source) DecodeHeader([]byte) (framestack.BlockHeader, error) {
	return framestack.BlockHeader{}, fmt.Errorf("raw frames have no headers")
}

func (s *source) Diagnostics() []framestack.Diagnostic {
	frames := (s.size - s.offset) / s.frameBytes
	return []framestack.Diagnostic{
		{Name: "frame_bytes", Value: s.frameBytes},
		{Name: "frames_in_file", Value: frames},
		{Name: "extra_bytes", Value: s.size - s.offset - int64(s.shape.NavSize())*s.frameBytes},
	}
}
