package framestack

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape is an immutable N-dimensional extent. The last SigDims dimensions are
// signal dimensions (the shape of one frame), the leading ones are navigation
// dimensions (scan positions).
type Shape struct {
	dims    []int
	sigDims int
}

var (
	_ json.Marshaler   = Shape{}
	_ json.Unmarshaler = (*Shape)(nil)
)

// NewShape validates dims and sigDims. Every extent must be positive, except
// navigation extents which may be zero to express an empty selection.
func NewShape(dims []int, sigDims int) (Shape, error) {
	if sigDims < 0 || sigDims > len(dims) {
		return Shape{}, configErrorf("shape %v: invalid number of signal dims %d", dims, sigDims)
	}
	navDims := len(dims) - sigDims
	for i, d := range dims {
		if d < 0 || (d == 0 && i >= navDims) {
			return Shape{}, configErrorf("shape %v: invalid extent %d in dimension %d", dims, d, i)
		}
	}
	return Shape{dims: append([]int(nil), dims...), sigDims: sigDims}, nil
}

// MustShape is NewShape for literals; it panics on invalid input.
func MustShape(dims []int, sigDims int) Shape {
	s, err := NewShape(dims, sigDims)
	if err != nil {
		panic(err)
	}
	return s
}

// Dims returns a copy of the extents.
func (s Shape) Dims() []int { return append([]int(nil), s.dims...) }

// Len is the number of dimensions.
func (s Shape) Len() int { return len(s.dims) }

// SigDims is the number of trailing signal dimensions.
func (s Shape) SigDims() int { return s.sigDims }

// NavDims is the number of leading navigation dimensions.
func (s Shape) NavDims() int { return len(s.dims) - s.sigDims }

// At returns the extent of dimension i. Negative i counts from the end.
func (s Shape) At(i int) int {
	if i < 0 {
		i += len(s.dims)
	}
	return s.dims[i]
}

// Nav returns the navigation part as a shape without signal dims.
func (s Shape) Nav() Shape {
	return Shape{dims: append([]int(nil), s.dims[:s.NavDims()]...)}
}

// Sig returns the signal part as a shape made only of signal dims.
func (s Shape) Sig() Shape {
	return Shape{dims: append([]int(nil), s.dims[s.NavDims():]...), sigDims: s.sigDims}
}

// FlattenNav collapses all navigation dimensions into one.
func (s Shape) FlattenNav() Shape {
	dims := make([]int, 0, s.sigDims+1)
	dims = append(dims, s.NavSize())
	dims = append(dims, s.dims[s.NavDims():]...)
	return Shape{dims: dims, sigDims: s.sigDims}
}

// Size is the total number of elements.
func (s Shape) Size() int {
	n := 1
	for _, d := range s.dims {
		n *= d
	}
	return n
}

// NavSize is the number of navigation positions.
func (s Shape) NavSize() int {
	n := 1
	for _, d := range s.dims[:s.NavDims()] {
		n *= d
	}
	return n
}

// SigSize is the number of elements in one frame.
func (s Shape) SigSize() int {
	n := 1
	for _, d := range s.dims[s.NavDims():] {
		n *= d
	}
	return n
}

// WithNav returns a shape with the given navigation extents and the signal part of s.
func (s Shape) WithNav(nav ...int) Shape {
	dims := append(append([]int(nil), nav...), s.dims[s.NavDims():]...)
	return Shape{dims: dims, sigDims: s.sigDims}
}

// Equal compares extents and the signal split.
func (s Shape) Equal(o Shape) bool {
	if s.sigDims != o.sigDims || len(s.dims) != len(o.dims) {
		return false
	}
	for i := range s.dims {
		if s.dims[i] != o.dims[i] {
			return false
		}
	}
	return true
}

// Less orders shapes dimension-wise; shorter shapes sort first on a common prefix.
func (s Shape) Less(o Shape) bool {
	for i := 0; i < len(s.dims) && i < len(o.dims); i++ {
		if s.dims[i] != o.dims[i] {
			return s.dims[i] < o.dims[i]
		}
	}
	if len(s.dims) != len(o.dims) {
		return len(s.dims) < len(o.dims)
	}
	return s.sigDims < o.sigDims
}

func (s Shape) String() string {
	return tupleString(s.dims)
}

type shapeJSON struct {
	Dims    []int `json:"dims"`
	SigDims int   `json:"sig_dims"`
}

func (s Shape) MarshalJSON() ([]byte, error) {
	dims := s.dims
	if dims == nil {
		dims = []int{}
	}
	return json.Marshal(shapeJSON{Dims: dims, SigDims: s.sigDims})
}

func (s *Shape) UnmarshalJSON(d []byte) error {
	var v shapeJSON
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	sh, err := NewShape(v.Dims, v.SigDims)
	if err != nil {
		return err
	}
	*s = sh
	return nil
}

func tupleString(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
