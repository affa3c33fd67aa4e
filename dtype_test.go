package framestack

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParseDtype(t *testing.T) {
	cases := map[string]Dtype{
		"<u2":     Uint16,
		"uint16":  Uint16,
		"|u1":     Uint8,
		">i4":     {BOBigEndian, BTInteger, 4},
		"float32": Float32,
		"&lt;f8":  Float64,
	}
	for s, want := range cases {
		got, err := ParseDtype(s)
		if err != nil {
			t.Errorf("%s: %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", s, got, want)
		}
	}
	for _, s := range []string{"", "<u", "?u2", "<x2", "<uu"} {
		if _, err := ParseDtype(s); !errors.Is(err, ErrConfig) {
			t.Errorf("%q: expected ErrConfig, got %v", s, err)
		}
	}
}

func TestDtypeNumeric(t *testing.T) {
	for _, s := range []string{"|b1", "<c8", "<f2", "<u3"} {
		if err := MustDtype(s).Numeric(); !errors.Is(err, ErrConfig) {
			t.Errorf("%s: expected ErrConfig, got %v", s, err)
		}
	}
	if _, err := newConverter(Uint16, MustDtype("|b1")); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for a bool destination, got %v", err)
	}
}

func TestDtypeJSON(t *testing.T) {
	var v struct {
		Dtype Dtype `json:"dtype"`
	}
	if err := json.Unmarshal([]byte(`{"dtype":">u2"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.Dtype.ByteOrder != BOBigEndian || v.Dtype.ItemSize() != 2 {
		t.Errorf("got %s", v.Dtype)
	}
}

func TestConverter(t *testing.T) {
	src := make([]byte, 6)
	binary.BigEndian.PutUint16(src[0:], 1)
	binary.BigEndian.PutUint16(src[2:], 300)
	binary.BigEndian.PutUint16(src[4:], 65535)

	c, err := newConverter(MustDtype(">u2"), Float32)
	if err != nil {
		t.Fatal(err)
	}
	if c.direct {
		t.Error("big endian to float32 is not a direct copy")
	}
	dst := make([]byte, 12)
	c.convert(dst, src, 3)
	buf := Buffer{Dtype: Float32, Bytes: dst}
	want := []float64{1, 300, 65535}
	for i, v := range buf.Float64s() {
		if v != want[i] {
			t.Errorf("element %d: got %v, want %v", i, v, want[i])
		}
	}

	c, err = newConverter(MustDtype(">u2"), MustDtype(">u2"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.direct {
		t.Error("identical types should copy directly")
	}
	out := make([]byte, 6)
	c.convert(out, src, 3)
	if string(out) != string(src) {
		t.Error("direct copy changed the data")
	}

	c, err = newConverter(Int16, Float64)
	if err != nil {
		t.Fatal(err)
	}
	in := make([]byte, 2)
	binary.LittleEndian.PutUint16(in, uint16(0xfffe))
	f := make([]byte, 8)
	c.convert(f, in, 1)
	if got := math.Float64frombits(binary.LittleEndian.Uint64(f)); got != -2 {
		t.Errorf("int16 -2 converted to %v", got)
	}
}

func TestConvertIntegers(t *testing.T) {
	const big = 1<<53 + 1
	n := int64(1)<<60 + 3
	neg := uint64(-n)
	cases := []struct {
		src, dst string
		in       uint64 // two's complement bits of the source value
		want     uint64
	}{
		{"<u8", ">u8", big, big},
		{">u8", "<u8", math.MaxUint64, math.MaxUint64},
		{"<i8", ">i8", neg, neg},
		{"<u8", "<i8", 1<<63 + 5, 1<<63 + 5},
		{"<i2", "<i8", 0xfffe, math.MaxUint64 - 1},
		{"<u2", "|u1", 300, 44},
		{"<i4", ">u4", 0xfffffffe, 0xfffffffe},
	}
	for _, c := range cases {
		src, dst := MustDtype(c.src), MustDtype(c.dst)
		conv, err := newConverter(src, dst)
		if err != nil {
			t.Fatal(err)
		}
		in := make([]byte, 8)
		src.putBits()(in[:src.ByteSize], c.in)
		out := make([]byte, dst.ByteSize)
		conv.convert(out, in[:src.ByteSize], 1)
		if got := dst.bits()(out); got&mask(dst) != c.want&mask(dst) {
			t.Errorf("%s -> %s of %#x: got %#x, want %#x", c.src, c.dst, c.in, got, c.want)
		}
	}
}

func mask(dt Dtype) uint64 {
	if dt.ByteSize == 8 {
		return math.MaxUint64
	}
	return 1<<(8*dt.ByteSize) - 1
}

func TestBuffer(t *testing.T) {
	b := Buffer{Dtype: Uint8, Bytes: []byte{1, 2, 3}}
	if b.Len() != 3 || b.At(2) != 3 {
		t.Errorf("Len %d At(2) %v", b.Len(), b.At(2))
	}
	c := b.Clone()
	c.Bytes[0] = 9
	if b.Bytes[0] != 1 {
		t.Error("Clone shares memory")
	}
	if (Buffer{}).Len() != 0 {
		t.Error("zero buffer has elements")
	}
}
