package framestack

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is an element type in NumPy typestr notation. The format consists of
// 3 parts:
//   - One character describing the byteorder of the data:
//     "<": little-endian; ">": big-endian; "|": not-relevant
//   - One character code giving the basic type of the array:
//     "b" boolean, "i" integer, "u" unsigned integer, "f" floating point,
//     "c" complex floating point
//   - An integer specifying the number of bytes the type uses.
//
// Frames are read in the dataset's native Dtype and converted into a caller
// selected destination Dtype. Only integer and floating point types convert.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Common element types.
var (
	Uint8   = Dtype{BONotRelevant, BTUnsigned, 1}
	Uint16  = Dtype{BOLittleEndian, BTUnsigned, 2}
	Uint32  = Dtype{BOLittleEndian, BTUnsigned, 4}
	Int16   = Dtype{BOLittleEndian, BTInteger, 2}
	Int32   = Dtype{BOLittleEndian, BTInteger, 4}
	Float32 = Dtype{BOLittleEndian, BTFloatingPoint, 4}
	Float64 = Dtype{BOLittleEndian, BTFloatingPoint, 8}

	// DefaultDestDtype is used when a read does not name a destination type.
	DefaultDestDtype = Float32
)

var dtypeAliases = map[string]Dtype{
	"uint8":   Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  {BOLittleEndian, BTUnsigned, 8},
	"int8":    {BONotRelevant, BTInteger, 1},
	"int16":   Int16,
	"int32":   Int32,
	"int64":   {BOLittleEndian, BTInteger, 8},
	"float32": Float32,
	"float64": Float64,
	"u1":      Uint8,
	"u2":      Uint16,
	"u4":      Uint32,
	"i2":      Int16,
	"i4":      Int32,
	"f4":      Float32,
	"f8":      Float64,
}

// ParseDtype reads a typestr such as "<u2" or a plain name such as "uint16".
func ParseDtype(s string) (dt Dtype, err error) {
	// some writers HTML-escape typestrs when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if alias, ok := dtypeAliases[s]; ok {
		return alias, nil
	}
	if len(s) < 3 {
		return dt, configErrorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	size, err := strconv.ParseInt(s, 10, 0)
	if err != nil {
		return dt, configErrorf("invalid Dtype size %q", s)
	}
	dt.ByteSize = int(size)
	return dt, nil
}

// MustDtype is ParseDtype for literals; it panics on invalid input.
func MustDtype(s string) Dtype {
	dt, err := ParseDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

func (dt Dtype) String() string {
	if dt.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

// IsZero reports whether dt is unset.
func (dt Dtype) IsZero() bool { return dt == Dtype{} }

// ItemSize is the number of bytes per element.
func (dt Dtype) ItemSize() int { return dt.ByteSize }

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// Numeric fails with ErrConfig unless dt is an integer or float type of a
// size this package can convert.
func (dt Dtype) Numeric() error {
	switch dt.BasicType {
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4, 8:
			return nil
		}
	}
	return configErrorf("unsupported element type %q", dt.String())
}

func (dt Dtype) byteOrder() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// sameLayout reports whether values of a and b are bit-identical in memory.
func sameLayout(a, b Dtype) bool {
	if a.BasicType != b.BasicType || a.ByteSize != b.ByteSize {
		return false
	}
	return a.ByteSize == 1 || a.byteOrder() == b.byteOrder()
}

type elementReader func(b []byte) float64

type elementWriter func(b []byte, v float64)

func (dt Dtype) reader() elementReader {
	order := dt.byteOrder()
	switch dt.BasicType {
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return func(b []byte) float64 { return float64(b[0]) }
		case 2:
			return func(b []byte) float64 { return float64(order.Uint16(b)) }
		case 4:
			return func(b []byte) float64 { return float64(order.Uint32(b)) }
		case 8:
			return func(b []byte) float64 { return float64(order.Uint64(b)) }
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return func(b []byte) float64 { return float64(int8(b[0])) }
		case 2:
			return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
		case 4:
			return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
		case 8:
			return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
		case 8:
			return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
		}
	}
	return nil
}

func (dt Dtype) writer() elementWriter {
	order := dt.byteOrder()
	switch dt.BasicType {
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return func(b []byte, v float64) { b[0] = uint8(v) }
		case 2:
			return func(b []byte, v float64) { order.PutUint16(b, uint16(v)) }
		case 4:
			return func(b []byte, v float64) { order.PutUint32(b, uint32(v)) }
		case 8:
			return func(b []byte, v float64) { order.PutUint64(b, uint64(v)) }
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return func(b []byte, v float64) { b[0] = uint8(int8(v)) }
		case 2:
			return func(b []byte, v float64) { order.PutUint16(b, uint16(int16(v))) }
		case 4:
			return func(b []byte, v float64) { order.PutUint32(b, uint32(int32(v))) }
		case 8:
			return func(b []byte, v float64) { order.PutUint64(b, uint64(int64(v))) }
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return func(b []byte, v float64) { order.PutUint32(b, math.Float32bits(float32(v))) }
		case 8:
			return func(b []byte, v float64) { order.PutUint64(b, math.Float64bits(v)) }
		}
	}
	return nil
}

type bitsReader func(b []byte) uint64

type bitsWriter func(b []byte, v uint64)

// bits reads an integer element as a two's complement 64 bit value: signed
// types are sign extended, unsigned ones zero extended.
func (dt Dtype) bits() bitsReader {
	order := dt.byteOrder()
	signed := dt.BasicType == BTInteger
	switch dt.ByteSize {
	case 1:
		if signed {
			return func(b []byte) uint64 { return uint64(int8(b[0])) }
		}
		return func(b []byte) uint64 { return uint64(b[0]) }
	case 2:
		if signed {
			return func(b []byte) uint64 { return uint64(int16(order.Uint16(b))) }
		}
		return func(b []byte) uint64 { return uint64(order.Uint16(b)) }
	case 4:
		if signed {
			return func(b []byte) uint64 { return uint64(int32(order.Uint32(b))) }
		}
		return func(b []byte) uint64 { return uint64(order.Uint32(b)) }
	case 8:
		return order.Uint64
	}
	return nil
}

// putBits stores the low ByteSize bytes of v, wrapping like a Go integer
// conversion.
func (dt Dtype) putBits() bitsWriter {
	order := dt.byteOrder()
	switch dt.ByteSize {
	case 1:
		return func(b []byte, v uint64) { b[0] = uint8(v) }
	case 2:
		return func(b []byte, v uint64) { order.PutUint16(b, uint16(v)) }
	case 4:
		return func(b []byte, v uint64) { order.PutUint32(b, uint32(v)) }
	case 8:
		return order.PutUint64
	}
	return nil
}

func (dt Dtype) integer() bool {
	return dt.BasicType == BTInteger || dt.BasicType == BTUnsigned
}

// converter copies runs of elements from one Dtype into another. Integer to
// integer conversions keep all 64 bits; everything else goes through float64.
type converter struct {
	src, dst Dtype
	read     elementReader
	write    elementWriter
	readInt  bitsReader
	writeInt bitsWriter
	direct   bool
}

func newConverter(src, dst Dtype) (*converter, error) {
	if err := src.Numeric(); err != nil {
		return nil, err
	}
	if err := dst.Numeric(); err != nil {
		return nil, fmt.Errorf("destination type: %w", err)
	}
	c := &converter{
		src:    src,
		dst:    dst,
		direct: sameLayout(src, dst),
	}
	if src.integer() && dst.integer() {
		c.readInt, c.writeInt = src.bits(), dst.putBits()
	} else {
		c.read, c.write = src.reader(), dst.writer()
	}
	return c, nil
}

// convert decodes n elements from src into dst.
func (c *converter) convert(dst, src []byte, n int) {
	if c.direct {
		copy(dst[:n*c.dst.ByteSize], src[:n*c.src.ByteSize])
		return
	}
	ss, ds := c.src.ByteSize, c.dst.ByteSize
	if c.readInt != nil {
		for i := 0; i < n; i++ {
			c.writeInt(dst[i*ds:(i+1)*ds], c.readInt(src[i*ss:(i+1)*ss]))
		}
		return
	}
	for i := 0; i < n; i++ {
		c.write(dst[i*ds:(i+1)*ds], c.read(src[i*ss:(i+1)*ss]))
	}
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, configErrorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, configErrorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
}
