package framestack

import "fmt"

// Buffer is a run of elements of one Dtype, stored in that Dtype's byte order.
type Buffer struct {
	Dtype Dtype
	Bytes []byte
}

// Len is the number of elements.
func (b Buffer) Len() int {
	if b.Dtype.ByteSize == 0 {
		return 0
	}
	return len(b.Bytes) / b.Dtype.ByteSize
}

// At decodes element i.
func (b Buffer) At(i int) float64 {
	s := b.Dtype.ByteSize
	return b.Dtype.reader()(b.Bytes[i*s : (i+1)*s])
}

// Float64s decodes every element into a new slice.
func (b Buffer) Float64s() []float64 {
	read := b.Dtype.reader()
	s := b.Dtype.ByteSize
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = read(b.Bytes[i*s : (i+1)*s])
	}
	return out
}

// Clone returns a Buffer that does not share memory with b.
func (b Buffer) Clone() Buffer {
	return Buffer{Dtype: b.Dtype, Bytes: append([]byte(nil), b.Bytes...)}
}

// Tile is a region of a partition and the decoded data for exactly that
// region, laid out row-major over Slice.Shape.
//
// The navigation part of Slice is one flat axis. Without an ROI its origin is
// the dataset frame index; with an ROI it counts selected frames only.
type Tile struct {
	Slice Slice
	Data  Buffer
}

func (t *Tile) String() string {
	return fmt.Sprintf("<Tile %s dtype=%s>", t.Slice, t.Data.Dtype)
}
