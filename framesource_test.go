package framestack

import (
	"errors"
	"testing"
)

// stubSource places blocks of an 8x8 uint16 frame in one sector.
type stubSource struct {
	blocks []BlockPlacement
}

func (s stubSource) Shape() Shape    { return MustShape([]int{3, 8, 8}, 2) }
func (s stubSource) Dtype() Dtype    { return Uint16 }
func (s stubSource) HeaderSize() int { return 0 }

func (s stubSource) Sectors() []SectorInfo {
	return []SectorInfo{{Key: "a.bin", BlockSize: 128, BlocksPerFrame: len(s.blocks)}}
}

func (s stubSource) Blocks() []BlockPlacement { return s.blocks }

func (s stubSource) DecodeHeader(b []byte) (BlockHeader, error) { return BlockHeader{}, nil }

func rows(index, y0, n int) BlockPlacement {
	return BlockPlacement{Index: index, Sig: Slice{Origin: []int{y0, 0}, Shape: MustShape([]int{n, 8}, 2)}}
}

func TestValidateSource(t *testing.T) {
	cases := []struct {
		name   string
		blocks []BlockPlacement
		err    error
	}{
		{"exact", []BlockPlacement{rows(0, 0, 4), rows(1, 4, 4)}, nil},
		{"single", []BlockPlacement{rows(0, 0, 8)}, nil},
		{"gap", []BlockPlacement{rows(0, 0, 4), rows(1, 5, 3)}, ErrFormat},
		// areas add up to the frame but rows 6 and 7 are never covered
		{"overlap and gap", []BlockPlacement{rows(0, 0, 4), rows(1, 2, 4)}, ErrFormat},
		{"duplicate", []BlockPlacement{rows(0, 0, 4), rows(0, 0, 4)}, ErrFormat},
		{"outside", []BlockPlacement{rows(0, 0, 4), rows(1, 6, 4)}, ErrFormat},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateSource(stubSource{blocks: c.blocks})
			if c.err == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if c.err != nil && !errors.Is(err, c.err) {
				t.Errorf("expected %v, got %v", c.err, err)
			}
		})
	}
}
