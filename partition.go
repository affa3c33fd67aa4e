package framestack

import (
	"encoding/json"
	"iter"

	"github.com/qri-io/framestack/log"
)

// Partition is a contiguous range of frames of a DataSet, the unit of work
// handed to a worker. It holds no data and no open handles; every read
// acquires and releases its own.
type Partition struct {
	ds     *DataSet
	index  int
	start  int
	frames int
}

// Index is the position of the partition in DataSet.Partitions.
func (p *Partition) Index() int { return p.index }

// StartFrame is the flat navigation index of the first frame.
func (p *Partition) StartFrame() int { return p.start }

// Frames is the number of frames in the partition.
func (p *Partition) Frames() int { return p.frames }

// DataSet returns the dataset the partition belongs to.
func (p *Partition) DataSet() *DataSet { return p.ds }

// Shape is (frames, sig...).
func (p *Partition) Shape() Shape {
	return p.ds.Shape().Sig().WithNav(p.frames)
}

// Slice locates the partition in the flattened dataset.
func (p *Partition) Slice() Slice {
	sh := p.Shape()
	origin := make([]int, sh.Len())
	origin[0] = p.start
	return Slice{Origin: origin, Shape: sh}
}

// Tiles reads the partition's frames selected by roi (all frames when roi is
// nil), cut per scheme and converted to dest (DefaultDestDtype when zero).
//
// Frames are grouped scheme.Depth() at a time in ascending order, and each
// group yields one tile per signal slice of the scheme. The last group holds
// the remaining frames. The sequence is empty when roi selects no frame of
// the partition. Configuration errors are reported on the first pull.
//
// A tile and its data are only valid until the next step of the sequence.
// Backend handles are held while the sequence runs and released when it ends,
// whether exhausted, stopped by the consumer or aborted by an error.
func (p *Partition) Tiles(scheme *TilingScheme, roi ROI, dest Dtype) iter.Seq2[*Tile, error] {
	return func(yield func(*Tile, error) bool) {
		if scheme == nil {
			yield(nil, configErrorf("tiling scheme is nil"))
			return
		}
		if err := scheme.checkCompatible(p.ds.Shape().Sig()); err != nil {
			yield(nil, err)
			return
		}
		sel, conv, err := p.prepare(roi, dest)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(sel.frames) == 0 {
			return
		}

		fr, err := p.openReader(conv)
		if err != nil {
			yield(nil, err)
			return
		}
		defer fr.close()

		slices := scheme.slices
		plans := make([][]projectionPlan, len(slices))
		for i, sl := range slices {
			plans[i] = planProjections(p.ds.source.Blocks(), sl)
		}

		var buf []byte
		depth := scheme.Depth()
		item := conv.dst.ItemSize()
		for g := 0; g < len(sel.frames); g += depth {
			group := sel.frames[g:min(g+depth, len(sel.frames))]
			for i, sl := range slices {
				frameElems := sl.Shape.Size()
				need := len(group) * frameElems * item
				if cap(buf) < need {
					buf = make([]byte, need)
				}
				buf = buf[:need]
				for k, f := range group {
					if err := fr.readFrame(p.start+f, plans[i], buf[k*frameElems*item:(k+1)*frameElems*item]); err != nil {
						yield(nil, err)
						return
					}
				}
				t := &Tile{
					Slice: tileSlice(sel.base+g, len(group), sl),
					Data:  Buffer{Dtype: conv.dst, Bytes: buf},
				}
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

// Macrotile reads every frame of the partition selected by roi into one
// contiguous tile covering the full signal shape, in ascending frame order.
// Excluded frames are omitted. With an empty selection the tile has zero
// navigation extent.
func (p *Partition) Macrotile(roi ROI, dest Dtype) (*Tile, error) {
	sel, conv, err := p.prepare(roi, dest)
	if err != nil {
		return nil, err
	}
	sig := p.ds.Shape().Sig()
	full := Slice{Origin: make([]int, sig.Len()), Shape: sig}
	t := &Tile{
		Slice: tileSlice(sel.base, len(sel.frames), full),
		Data:  Buffer{Dtype: conv.dst, Bytes: []byte{}},
	}
	if len(sel.frames) == 0 {
		return t, nil
	}

	fr, err := p.openReader(conv)
	if err != nil {
		return nil, err
	}
	defer fr.close()

	plan := planProjections(p.ds.source.Blocks(), full)
	frameBytes := sig.Size() * conv.dst.ItemSize()
	t.Data.Bytes = make([]byte, len(sel.frames)*frameBytes)
	for k, f := range sel.frames {
		if err := fr.readFrame(p.start+f, plan, t.Data.Bytes[k*frameBytes:(k+1)*frameBytes]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Partition) prepare(roi ROI, dest Dtype) (selection, *converter, error) {
	if dest.IsZero() {
		dest = DefaultDestDtype
	}
	conv, err := newConverter(p.ds.source.Dtype(), dest)
	if err != nil {
		return selection{}, nil, err
	}
	sel, err := roi.resolve(p.ds.Shape().NavSize(), p.start, p.frames)
	if err != nil {
		return selection{}, nil, err
	}
	return sel, conv, nil
}

func (p *Partition) openReader(conv *converter) (*frameReader, error) {
	r, err := p.ds.backend.Open(p.ds.store, sectorKeys(p.ds.source))
	if err != nil {
		return nil, err
	}
	p.ds.log.Debug("partition reader opened",
		log.Int("partition", p.index),
		log.String("backend", string(p.ds.backend.Kind())),
	)
	return &frameReader{
		src:   p.ds.source,
		secs:  p.ds.source.Sectors(),
		r:     r,
		conv:  conv,
		log:   p.ds.log,
		index: p.index,
	}, nil
}

func tileSlice(navOrigin, navExtent int, sig Slice) Slice {
	origin := append([]int{navOrigin}, sig.Origin...)
	dims := append([]int{navExtent}, sig.Shape.dims...)
	return Slice{Origin: origin, Shape: Shape{dims: dims, sigDims: len(sig.Origin)}}
}

// projectionPlan is a block projection with its runs and the payload span
// they touch, precomputed per signal slice.
type projectionPlan struct {
	blockProjection
	runs []run
	// span covers the runs in elements: [lo, hi).
	lo, hi int
}

func planProjections(blocks []BlockPlacement, sig Slice) []projectionPlan {
	projs := projectBlocks(blocks, sig)
	plans := make([]projectionPlan, len(projs))
	for i, pr := range projs {
		runs := pr.runs(sig)
		pl := projectionPlan{blockProjection: pr, runs: runs}
		if len(runs) > 0 {
			pl.lo = runs[0].src
			last := runs[len(runs)-1]
			pl.hi = last.src + last.n
		}
		plans[i] = pl
	}
	return plans
}

// frameReader decodes regions of single frames through a RegionReader.
type frameReader struct {
	src   FrameSource
	secs  []SectorInfo
	r     RegionReader
	conv  *converter
	log   log.Logger
	index int
}

// readFrame decodes the region described by plans of the given dataset frame
// into dst, which holds exactly one frame of the region in the destination type.
func (fr *frameReader) readFrame(frame int, plans []projectionPlan, dst []byte) error {
	hs := fr.src.HeaderSize()
	si := fr.conv.src.ItemSize()
	di := fr.conv.dst.ItemSize()
	for _, pl := range plans {
		sec := fr.secs[pl.block.Sector]
		blockOff := sec.Offset + (int64(frame)*int64(sec.BlocksPerFrame)+int64(pl.block.Index))*sec.BlockSize
		if hs > 0 {
			raw, err := fr.r.ReadRegion(pl.block.Sector, blockOff, hs)
			if err != nil {
				return err
			}
			h, err := fr.src.DecodeHeader(raw)
			if err != nil {
				return FormatError(err)
			}
			if want := sec.FirstFrameID + uint64(frame); h.FrameID != want {
				return formatErrorf("sector %s is out of sync at frame %d: block carries frame id %d, want %d",
					sec.Key, frame, h.FrameID, want)
			}
		}
		if pl.hi == pl.lo {
			continue
		}
		payloadOff := blockOff + int64(hs)
		span, err := fr.r.ReadRegion(pl.block.Sector, payloadOff+int64(pl.lo*si), (pl.hi-pl.lo)*si)
		if err != nil {
			return err
		}
		for _, rn := range pl.runs {
			s := (rn.src - pl.lo) * si
			fr.conv.convert(dst[rn.dst*di:(rn.dst+rn.n)*di], span[s:s+rn.n*si], rn.n)
		}
	}
	return nil
}

func (fr *frameReader) close() {
	if err := fr.r.Close(); err != nil {
		fr.log.Warn("closing partition reader", log.Int("partition", fr.index), log.Err(err))
		return
	}
	fr.log.Debug("partition reader closed", log.Int("partition", fr.index))
}

type partitionJSON struct {
	DataSet *Descriptor `json:"dataset"`
	Index   int         `json:"index"`
	Start   int         `json:"start"`
	Frames  int         `json:"frames"`
}

// MarshalJSON encodes the partition and its dataset as metadata only.
func (p *Partition) MarshalJSON() ([]byte, error) {
	return json.Marshal(partitionJSON{
		DataSet: p.ds.Descriptor(),
		Index:   p.index,
		Start:   p.start,
		Frames:  p.frames,
	})
}

// UnmarshalPartition reopens the dataset described in d and returns the
// partition with the recorded index. The range must match the reopened
// dataset's partitioning.
func UnmarshalPartition(d []byte, opts ...Option) (*Partition, error) {
	var v partitionJSON
	if err := json.Unmarshal(d, &v); err != nil {
		return nil, ConfigError(err)
	}
	if v.DataSet == nil {
		return nil, configErrorf("partition has no dataset descriptor")
	}
	ds, err := v.DataSet.Open(opts...)
	if err != nil {
		return nil, err
	}
	p, err := ds.Partition(v.Index)
	if err != nil {
		return nil, err
	}
	if p.start != v.Start || p.frames != v.Frames {
		return nil, formatErrorf("partition %d covers [%d, %d), recorded [%d, %d)",
			v.Index, p.start, p.start+p.frames, v.Start, v.Start+v.Frames)
	}
	return p, nil
}
