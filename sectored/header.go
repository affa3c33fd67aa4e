package sectored

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/qri-io/framestack"
)

// HeaderSize is the size of every block header in bytes.
const HeaderSize = 40

// Version is the block layout version this package reads.
const Version = 1

var magic = [4]byte{0xff, 0xff, 0x00, 0x55}

var errBadMagic = errors.New("block does not start with the sync pattern")

// header is one block header. All fields are little-endian:
//
//	0..3   sync pattern ff ff 00 55
//	4..5   version
//	6..7   header size
//	8..11  payload size in bytes
//	12..15 block counter within the sector
//	16..23 frame id
//	24..31 x0, y0, x1, y1: the frame region covered by the payload
//	32     basic type ('u', 'i', 'f')
//	33     element size
//	34..35 sector index
//	36..37 frame height
//	38..39 frame width
type header struct {
	Version     uint16
	PayloadSize uint32
	Counter     uint32
	FrameID     uint64
	X0, Y0      uint16
	X1, Y1      uint16
	BasicType   byte
	ItemSize    byte
	Sector      uint16
	Height      uint16
	Width       uint16
}

func decodeHeader(b []byte) (header, error) {
	var h header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("block header: %d bytes, want %d", len(b), HeaderSize)
	}
	if [4]byte(b[0:4]) != magic {
		return h, errBadMagic
	}
	le := binary.LittleEndian
	h.Version = le.Uint16(b[4:])
	if hs := le.Uint16(b[6:]); hs != HeaderSize {
		return h, fmt.Errorf("block header: size field %d, want %d", hs, HeaderSize)
	}
	if h.Version != Version {
		return h, fmt.Errorf("block header: unsupported version %d", h.Version)
	}
	h.PayloadSize = le.Uint32(b[8:])
	h.Counter = le.Uint32(b[12:])
	h.FrameID = le.Uint64(b[16:])
	h.X0 = le.Uint16(b[24:])
	h.Y0 = le.Uint16(b[26:])
	h.X1 = le.Uint16(b[28:])
	h.Y1 = le.Uint16(b[30:])
	h.BasicType = b[32]
	h.ItemSize = b[33]
	h.Sector = le.Uint16(b[34:])
	h.Height = le.Uint16(b[36:])
	h.Width = le.Uint16(b[38:])
	if h.X1 <= h.X0 || h.Y1 <= h.Y0 || h.X1 > h.Width || h.Y1 > h.Height {
		return h, fmt.Errorf("block header: region (%d,%d)-(%d,%d) invalid for frame %dx%d", h.X0, h.Y0, h.X1, h.Y1, h.Width, h.Height)
	}
	if want := uint32(h.X1-h.X0) * uint32(h.Y1-h.Y0) * uint32(h.ItemSize); h.PayloadSize != want {
		return h, fmt.Errorf("block header: payload size %d, region needs %d", h.PayloadSize, want)
	}
	return h, nil
}

func (h header) encode(b []byte) {
	le := binary.LittleEndian
	copy(b[0:4], magic[:])
	le.PutUint16(b[4:], h.Version)
	le.PutUint16(b[6:], HeaderSize)
	le.PutUint32(b[8:], h.PayloadSize)
	le.PutUint32(b[12:], h.Counter)
	le.PutUint64(b[16:], h.FrameID)
	le.PutUint16(b[24:], h.X0)
	le.PutUint16(b[26:], h.Y0)
	le.PutUint16(b[28:], h.X1)
	le.PutUint16(b[30:], h.Y1)
	b[32] = h.BasicType
	b[33] = h.ItemSize
	le.PutUint16(b[34:], h.Sector)
	le.PutUint16(b[36:], h.Height)
	le.PutUint16(b[38:], h.Width)
}

func (h header) dtype() (framestack.Dtype, error) {
	order := framestack.BOLittleEndian
	if h.ItemSize == 1 {
		order = framestack.BONotRelevant
	}
	dt := framestack.Dtype{ByteOrder: order, BasicType: framestack.BasicType(h.BasicType), ByteSize: int(h.ItemSize)}
	return dt, dt.Numeric()
}

func (h header) placement(sector, index int) framestack.BlockPlacement {
	return framestack.BlockPlacement{
		Sector: sector,
		Index:  index,
		Sig: framestack.Slice{
			Origin: []int{int(h.Y0), int(h.X0)},
			Shape:  framestack.MustShape([]int{int(h.Y1 - h.Y0), int(h.X1 - h.X0)}, 2),
		},
	}
}

func (h header) blockHeader() framestack.BlockHeader {
	return framestack.BlockHeader{
		FrameID: h.FrameID,
		Attrs: map[string]int{
			"counter": int(h.Counter),
			"sector":  int(h.Sector),
			"x0":      int(h.X0),
			"y0":      int(h.Y0),
			"x1":      int(h.X1),
			"y1":      int(h.Y1),
		},
	}
}
