package framestack

// blockProjection is the part of one block's payload that lands in a tile.
// It can be used to extract items from the block payload for loading into
// the tile buffer.
type blockProjection struct {
	block BlockPlacement
	// region is the overlap of block and tile, in frame coordinates.
	region Slice
}

// projectBlocks returns the projections of every block that overlaps sig.
func projectBlocks(blocks []BlockPlacement, sig Slice) []blockProjection {
	var out []blockProjection
	for _, b := range blocks {
		if region, ok := b.Sig.Intersect(sig); ok {
			out = append(out, blockProjection{block: b, region: region})
		}
	}
	return out
}

// run is a contiguous stretch of elements along the innermost axis.
type run struct {
	// src is the element offset into the block payload.
	src int
	// dst is the element offset into one frame of the tile.
	dst int
	n   int
}

// runs lists the contiguous runs of p, in ascending source order, for a tile
// whose signal part is tile.
func (p blockProjection) runs(tile Slice) []run {
	dims := p.region.Shape.Dims()
	nd := len(dims)
	if nd == 0 {
		return []run{{n: 1}}
	}
	bshape := p.block.Sig.Shape
	tshape := tile.Shape

	rows := 1
	for _, d := range dims[:nd-1] {
		rows *= d
	}
	out := make([]run, 0, rows)
	idx := make([]int, nd-1)
	for r := 0; r < rows; r++ {
		src, dst := 0, 0
		for i := 0; i < nd; i++ {
			c := p.region.Origin[i]
			if i < nd-1 {
				c += idx[i]
			}
			src = src*bshape.At(i) + (c - p.block.Sig.Origin[i])
			dst = dst*tshape.At(i) + (c - tile.Origin[i])
		}
		out = append(out, run{src: src, dst: dst, n: dims[nd-1]})
		for i := nd - 2; i >= 0; i-- {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out
}
