package framestack

import "fmt"

// Slice is an axis-aligned sub-region: an origin and an extent of the same
// dimensionality.
type Slice struct {
	Origin []int `json:"origin"`
	Shape  Shape `json:"shape"`
}

// NewSlice checks that origin and shape have the same number of dimensions.
func NewSlice(origin []int, shape Shape) (Slice, error) {
	if len(origin) != shape.Len() {
		return Slice{}, configErrorf("slice origin %v does not match shape %s", origin, shape)
	}
	for i, o := range origin {
		if o < 0 {
			return Slice{}, configErrorf("slice origin %v: negative offset in dimension %d", origin, i)
		}
	}
	return Slice{Origin: append([]int(nil), origin...), Shape: shape}, nil
}

// End returns the exclusive upper corner.
func (s Slice) End() []int {
	end := make([]int, len(s.Origin))
	for i, o := range s.Origin {
		end[i] = o + s.Shape.At(i)
	}
	return end
}

// Sig returns the signal part of the slice.
func (s Slice) Sig() Slice {
	n := s.Shape.NavDims()
	return Slice{Origin: append([]int(nil), s.Origin[n:]...), Shape: s.Shape.Sig()}
}

// Nav returns the navigation part of the slice.
func (s Slice) Nav() Slice {
	n := s.Shape.NavDims()
	return Slice{Origin: append([]int(nil), s.Origin[:n]...), Shape: s.Shape.Nav()}
}

// Contains reports whether o lies entirely inside s. Both must have the same
// dimensionality; empty slices are contained if their origin is inside.
func (s Slice) Contains(o Slice) bool {
	if len(s.Origin) != len(o.Origin) {
		return false
	}
	for i := range s.Origin {
		if o.Origin[i] < s.Origin[i] {
			return false
		}
		if o.Origin[i]+o.Shape.At(i) > s.Origin[i]+s.Shape.At(i) {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of two slices of equal dimensionality and
// whether it is non-empty.
func (s Slice) Intersect(o Slice) (Slice, bool) {
	if len(s.Origin) != len(o.Origin) {
		return Slice{}, false
	}
	origin := make([]int, len(s.Origin))
	dims := make([]int, len(s.Origin))
	for i := range s.Origin {
		lo := max(s.Origin[i], o.Origin[i])
		hi := min(s.Origin[i]+s.Shape.At(i), o.Origin[i]+o.Shape.At(i))
		if hi <= lo {
			return Slice{}, false
		}
		origin[i] = lo
		dims[i] = hi - lo
	}
	return Slice{Origin: origin, Shape: Shape{dims: dims, sigDims: s.Shape.sigDims}}, true
}

// Check fails if the slice reaches outside bounds.
func (s Slice) Check(bounds Shape) error {
	if len(s.Origin) != bounds.Len() {
		return configErrorf("slice %s has %d dims, bounds %s have %d", s, len(s.Origin), bounds, bounds.Len())
	}
	for i, o := range s.Origin {
		if o < 0 || o+s.Shape.At(i) > bounds.At(i) {
			return configErrorf("slice %s exceeds bounds %s in dimension %d", s, bounds, i)
		}
	}
	return nil
}

func (s Slice) String() string {
	return fmt.Sprintf("<Slice origin=%s shape=%s>", tupleString(s.Origin), s.Shape)
}
