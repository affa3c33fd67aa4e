package framestack

import (
	"iter"
)

// FrameSource is implemented by format decoders. It describes where a
// format keeps its frames without exposing format specific byte layouts:
// frames are stored in one or more sector files as sequences of fixed-size
// blocks, each block carrying a header and a payload that covers a
// rectangular region of one frame.
//
// Block k (0-based within a frame) of frame f in sector s starts at byte
//
//	Sectors()[s].Offset + (f*Sectors()[s].BlocksPerFrame + k) * Sectors()[s].BlockSize
//
// and its payload follows HeaderSize() header bytes, row-major over the
// placement's signal shape, in Dtype().
type FrameSource interface {
	Shape() Shape
	Dtype() Dtype
	Sectors() []SectorInfo
	// Blocks places every block of one frame on the signal plane. Together
	// the placements must cover the signal shape exactly once.
	Blocks() []BlockPlacement
	// HeaderSize is the number of header bytes in front of every payload.
	// Zero disables frame id validation.
	HeaderSize() int
	// DecodeHeader parses the HeaderSize() bytes in front of a payload.
	DecodeHeader(b []byte) (BlockHeader, error)
}

// SectorInfo locates the synchronized block stream of one sector file.
type SectorInfo struct {
	Key            string `json:"key"`
	Offset         int64  `json:"offset"`
	BlockSize      int64  `json:"block_size"`
	BlocksPerFrame int    `json:"blocks_per_frame"`
	// FirstFrameID is the frame id carried by the blocks of frame 0.
	FirstFrameID uint64 `json:"first_frame_id"`
}

// BlockPlacement maps block Index of a frame in Sector onto the region Sig
// of the frame.
type BlockPlacement struct {
	Sector int   `json:"sector"`
	Index  int   `json:"index"`
	Sig    Slice `json:"sig"`
}

// BlockHeader is the decoded header of a block.
type BlockHeader struct {
	FrameID uint64         `json:"frame_id"`
	Attrs   map[string]int `json:"attrs,omitempty"`
}

// Block is one header and payload read sequentially from a sector.
type Block struct {
	Offset  int64
	Header  BlockHeader
	Payload []byte
}

// sectorKeys lists the store keys of every sector in order.
func sectorKeys(src FrameSource) []string {
	secs := src.Sectors()
	keys := make([]string, len(secs))
	for i, s := range secs {
		keys[i] = s.Key
	}
	return keys
}

// validateSource checks that the block placements of src tile its signal
// shape: every placement lies inside the frame, no two overlap, and together
// they cover every element.
func validateSource(src FrameSource) error {
	sig := src.Shape().Sig()
	secs := src.Sectors()
	if len(secs) == 0 {
		return formatErrorf("frame source has no sectors")
	}
	covered := 0
	bounds := Slice{Origin: make([]int, sig.Len()), Shape: sig}
	blocks := src.Blocks()
	seen := make(map[[2]int]bool, len(blocks))
	for n, b := range blocks {
		if b.Sector < 0 || b.Sector >= len(secs) {
			return formatErrorf("block placement refers to sector %d of %d", b.Sector, len(secs))
		}
		if b.Index < 0 || b.Index >= secs[b.Sector].BlocksPerFrame {
			return formatErrorf("block index %d out of range for sector %d", b.Index, b.Sector)
		}
		if seen[[2]int{b.Sector, b.Index}] {
			return formatErrorf("block %d of sector %d is placed twice", b.Index, b.Sector)
		}
		seen[[2]int{b.Sector, b.Index}] = true
		if !bounds.Contains(b.Sig) {
			return formatErrorf("block %s lies outside the frame %s", b.Sig, sig)
		}
		payload := int64(b.Sig.Shape.Size()*src.Dtype().ItemSize() + src.HeaderSize())
		if payload > secs[b.Sector].BlockSize {
			return formatErrorf("block of %d bytes does not fit block size %d", payload, secs[b.Sector].BlockSize)
		}
		for _, o := range blocks[:n] {
			if overlap, ok := b.Sig.Intersect(o.Sig); ok {
				return formatErrorf("block %d of sector %d overlaps block %d of sector %d at %s",
					b.Index, b.Sector, o.Index, o.Sector, overlap)
			}
		}
		covered += b.Sig.Shape.Size()
	}
	if covered != sig.Size() {
		return formatErrorf("blocks cover %d of %d frame elements", covered, sig.Size())
	}
	return nil
}

// SectorBlocks reads the blocks of sector i sequentially, starting at the
// sector's synchronized offset. It is the block-level API for format authors
// and tools that need headers as well as payload; tile reads go through
// Partition instead. The sequence ends at the end of the file; a
// trailing partial block is a format error. Handles are released when the
// sequence ends or the consumer stops early.
func SectorBlocks(store Store, src FrameSource, i int) iter.Seq2[Block, error] {
	return func(yield func(Block, error) bool) {
		secs := src.Sectors()
		if i < 0 || i >= len(secs) {
			yield(Block{}, configErrorf("sector %d out of range", i))
			return
		}
		sec := secs[i]
		r, err := (&BufferedBackend{}).Open(store, []string{sec.Key})
		if err != nil {
			yield(Block{}, err)
			return
		}
		defer r.Close()

		size, err := r.Size(0)
		if err != nil {
			yield(Block{}, err)
			return
		}
		hs := src.HeaderSize()
		for off := sec.Offset; off < size; off += sec.BlockSize {
			if off+sec.BlockSize > size {
				yield(Block{}, formatErrorf("sector %s: trailing partial block at %d", sec.Key, off))
				return
			}
			raw, err := r.ReadRegion(0, off, int(sec.BlockSize))
			if err != nil {
				yield(Block{}, err)
				return
			}
			blk := Block{Offset: off, Payload: raw[hs:]}
			if hs > 0 {
				if blk.Header, err = src.DecodeHeader(raw[:hs]); err != nil {
					yield(Block{}, FormatError(err))
					return
				}
			}
			if !yield(blk, nil) {
				return
			}
		}
	}
}
