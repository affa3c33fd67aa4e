package framestack

import (
	"fmt"
	"strings"
)

// DefaultTileBudget is the target size in bytes of one tile when the depth
// is not given explicitly.
const DefaultTileBudget = 1 << 20

// TilingScheme is a gap-free tiling of a dataset's signal shape plus a depth,
// the number of frames grouped into one tile. It is a pure function of its
// inputs.
type TilingScheme struct {
	tileShape Shape // (depth, sig...)
	dataset   Shape // flattened navigation
	slices    []Slice
}

// SchemeOption tunes how a TilingScheme picks its default depth.
type SchemeOption func(*schemeOptions)

type schemeOptions struct {
	budget   int
	itemSize int
}

// WithTileBudget caps the bytes per tile used to derive a default depth.
func WithTileBudget(bytes int) SchemeOption {
	return func(o *schemeOptions) { o.budget = bytes }
}

// WithItemSize sets the element size used to derive a default depth.
func WithItemSize(n int) SchemeOption {
	return func(o *schemeOptions) { o.itemSize = n }
}

// MakeTilingScheme derives a tiling of datasetShape from tileshape.
//
// tileshape has either the dataset's signal dimensions only, in which case the
// depth is derived from the tile budget, or one extra leading dimension that
// is the depth. Signal extents larger than the dataset are clamped. Every
// signal axis except the outermost must be divided evenly by the tile extent;
// the outermost may end in a shorter tile.
func MakeTilingScheme(tileshape, datasetShape Shape, opts ...SchemeOption) (*TilingScheme, error) {
	o := schemeOptions{budget: DefaultTileBudget, itemSize: DefaultDestDtype.ItemSize()}
	for _, opt := range opts {
		opt(&o)
	}

	sigDims := datasetShape.SigDims()
	if sigDims == 0 {
		return nil, configErrorf("dataset shape %s has no signal dimensions", datasetShape)
	}
	dims := tileshape.Dims()
	depth := 0
	switch len(dims) {
	case sigDims:
	case sigDims + 1:
		depth, dims = dims[0], dims[1:]
		if depth <= 0 {
			return nil, configErrorf("tile shape %s: depth must be positive", tileshape)
		}
	default:
		return nil, configErrorf("tile shape %s does not fit dataset shape %s", tileshape, datasetShape)
	}

	sig := datasetShape.Sig()
	for i := range dims {
		full := sig.At(i)
		if dims[i] <= 0 {
			return nil, configErrorf("tile shape %s: extent %d in signal dim %d", tileshape, dims[i], i)
		}
		if dims[i] > full {
			dims[i] = full
		}
		if i > 0 && full%dims[i] != 0 {
			return nil, configErrorf("tile shape %s: extent %d does not divide signal extent %d in dim %d",
				tileshape, dims[i], full, i)
		}
	}

	navSize := datasetShape.NavSize()
	if depth == 0 {
		tileBytes := o.itemSize
		for _, d := range dims {
			tileBytes *= d
		}
		depth = max(1, o.budget/max(1, tileBytes))
	}
	if navSize > 0 {
		depth = min(depth, navSize)
	}

	ts := &TilingScheme{
		tileShape: Shape{dims: append([]int{depth}, dims...), sigDims: sigDims},
		dataset:   datasetShape.FlattenNav(),
	}
	ts.slices = sigSlices(sig, dims)
	return ts, nil
}

// sigSlices cuts sig into tiles of extent dims, row-major.
func sigSlices(sig Shape, dims []int) []Slice {
	n := len(dims)
	counts := make([]int, n)
	total := 1
	for i := range dims {
		counts[i] = (sig.At(i) + dims[i] - 1) / dims[i]
		total *= counts[i]
	}

	slices := make([]Slice, 0, total)
	idx := make([]int, n)
	for k := 0; k < total; k++ {
		origin := make([]int, n)
		extent := make([]int, n)
		for i := range dims {
			origin[i] = idx[i] * dims[i]
			extent[i] = min(dims[i], sig.At(i)-origin[i])
		}
		slices = append(slices, Slice{Origin: origin, Shape: Shape{dims: extent, sigDims: n}})
		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < counts[i] {
				break
			}
			idx[i] = 0
		}
	}
	return slices
}

// Depth is the number of frames per tile.
func (ts *TilingScheme) Depth() int { return ts.tileShape.At(0) }

// TileShape is (depth, sig...) of a full tile.
func (ts *TilingScheme) TileShape() Shape { return ts.tileShape }

// DatasetShape is the shape the scheme was derived for, navigation flattened.
func (ts *TilingScheme) DatasetShape() Shape { return ts.dataset }

// Len is the number of signal slices.
func (ts *TilingScheme) Len() int { return len(ts.slices) }

// Slices returns the signal slices in iteration order.
func (ts *TilingScheme) Slices() []Slice { return append([]Slice(nil), ts.slices...) }

// checkCompatible verifies that ts can tile frames of sig.
func (ts *TilingScheme) checkCompatible(sig Shape) error {
	if !ts.dataset.Sig().Equal(sig) {
		return configErrorf("tiling scheme for signal shape %s used with signal shape %s", ts.dataset.Sig(), sig)
	}
	return nil
}

func (ts *TilingScheme) String() string {
	seen := map[string]bool{}
	var shapes []string
	for _, s := range ts.slices {
		k := s.Shape.String()
		if !seen[k] {
			seen[k] = true
			shapes = append(shapes, k)
		}
	}
	return fmt.Sprintf("<TilingScheme (depth=%d) shapes=[%s] len=%d>", ts.Depth(), strings.Join(shapes, ", "), len(ts.slices))
}
