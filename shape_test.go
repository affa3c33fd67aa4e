package framestack

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewShape(t *testing.T) {
	cases := []struct {
		dims    []int
		sigDims int
		err     bool
	}{
		{[]int{34, 35, 1860, 2048}, 2, false},
		{[]int{0, 16, 16}, 2, false},
		{[]int{4, 0, 16}, 2, true},
		{[]int{-1, 16}, 1, true},
		{[]int{16}, 2, true},
		{[]int{16}, -1, true},
	}
	for _, c := range cases {
		_, err := NewShape(c.dims, c.sigDims)
		if c.err != (err != nil) {
			t.Errorf("NewShape(%v, %d): error %v", c.dims, c.sigDims, err)
		}
		if err != nil && !errors.Is(err, ErrConfig) {
			t.Errorf("NewShape(%v, %d): expected ErrConfig, got %v", c.dims, c.sigDims, err)
		}
	}
}

func TestShapeParts(t *testing.T) {
	s := MustShape([]int{34, 35, 1860, 2048}, 2)
	if s.String() != "(34, 35, 1860, 2048)" {
		t.Errorf("String: %s", s)
	}
	if s.NavSize() != 1190 || s.SigSize() != 1860*2048 || s.Size() != 1190*1860*2048 {
		t.Errorf("sizes: nav %d sig %d size %d", s.NavSize(), s.SigSize(), s.Size())
	}
	if got := s.Nav().String(); got != "(34, 35)" {
		t.Errorf("Nav: %s", got)
	}
	if got := s.Sig(); got.String() != "(1860, 2048)" || got.SigDims() != 2 {
		t.Errorf("Sig: %s sigDims=%d", got, got.SigDims())
	}
	if got := s.FlattenNav().String(); got != "(1190, 1860, 2048)" {
		t.Errorf("FlattenNav: %s", got)
	}
	if got := s.WithNav(7).String(); got != "(7, 1860, 2048)" {
		t.Errorf("WithNav: %s", got)
	}
	if s.At(-1) != 2048 || s.At(0) != 34 {
		t.Errorf("At: %d %d", s.At(0), s.At(-1))
	}
	if got := MustShape([]int{5}, 0).String(); got != "(5,)" {
		t.Errorf("one dimension: %s", got)
	}

	dims := s.Dims()
	dims[0] = 1
	if s.At(0) != 34 {
		t.Error("Dims exposed the shape's storage")
	}
}

func TestShapeOrdering(t *testing.T) {
	a := MustShape([]int{16, 930, 16}, 2)
	b := MustShape([]int{16, 930, 32}, 2)
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Error("Less is not a strict order")
	}
	if !a.Equal(MustShape([]int{16, 930, 16}, 2)) {
		t.Error("Equal shapes compare unequal")
	}
	if a.Equal(MustShape([]int{16, 930, 16}, 3)) {
		t.Error("shapes with a different signal split compare equal")
	}
}

func TestShapeJSON(t *testing.T) {
	s := MustShape([]int{34, 35, 1860, 2048}, 2)
	d, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(d) != `{"dims":[34,35,1860,2048],"sig_dims":2}` {
		t.Errorf("JSON: %s", d)
	}
	var got Shape
	if err := json.Unmarshal(d, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(s) {
		t.Errorf("round trip: %s", got)
	}
	if err := json.Unmarshal([]byte(`{"dims":[4,0],"sig_dims":1}`), &got); err == nil {
		t.Error("expected error for a zero signal extent")
	}
}

func TestSlice(t *testing.T) {
	frame := Slice{Origin: []int{0, 0}, Shape: MustShape([]int{8, 8}, 2)}
	a := Slice{Origin: []int{2, 4}, Shape: MustShape([]int{4, 4}, 2)}
	b := Slice{Origin: []int{4, 0}, Shape: MustShape([]int{4, 6}, 2)}

	if !frame.Contains(a) || a.Contains(frame) {
		t.Error("Contains")
	}
	got, ok := a.Intersect(b)
	if !ok {
		t.Fatal("expected overlap")
	}
	if got.String() != "<Slice origin=(4, 4) shape=(2, 2)>" {
		t.Errorf("Intersect: %s", got)
	}
	far := Slice{Origin: []int{6, 0}, Shape: MustShape([]int{2, 2}, 2)}
	if _, ok := a.Intersect(far); ok {
		t.Error("disjoint slices intersect")
	}
	if got := a.End(); got[0] != 6 || got[1] != 8 {
		t.Errorf("End: %v", got)
	}
	if err := a.Check(MustShape([]int{8, 8}, 2)); err != nil {
		t.Error(err)
	}
	if err := a.Check(MustShape([]int{8, 6}, 2)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
	if _, err := NewSlice([]int{1}, MustShape([]int{4, 4}, 2)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}

	tile := Slice{Origin: []int{3, 2, 4}, Shape: MustShape([]int{5, 4, 4}, 2)}
	if got := tile.Sig().String(); got != "<Slice origin=(2, 4) shape=(4, 4)>" {
		t.Errorf("Sig: %s", got)
	}
	if got := tile.Nav().String(); got != "<Slice origin=(3,) shape=(5,)>" {
		t.Errorf("Nav: %s", got)
	}
}

func TestROIResolve(t *testing.T) {
	global := ROI{true, false, true, true, false, true}

	sel, err := global.resolve(6, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.frames) != 2 || sel.frames[0] != 0 || sel.frames[1] != 1 || sel.base != 1 {
		t.Errorf("global: %+v", sel)
	}

	local := ROI{false, true, true}
	sel, err = local.resolve(6, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.frames) != 2 || sel.frames[0] != 1 || sel.base != 0 {
		t.Errorf("local: %+v", sel)
	}

	sel, err = ROI(nil).resolve(6, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.frames) != 3 || sel.base != 3 {
		t.Errorf("nil: %+v", sel)
	}

	if _, err := (ROI{true}).resolve(6, 0, 3); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
	if NewROI(4, true).Count() != 4 || global.CountRange(1, 4) != 2 {
		t.Error("Count")
	}
}
