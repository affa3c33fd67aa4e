package framestack

// ROI selects navigation positions. Index i refers to the i-th frame in
// row-major navigation order; true includes the frame.
//
// An ROI passed to a partition may either span the whole dataset or only the
// partition's own frames. A partition-local ROI behaves like a dataset ROI
// that selects nothing outside the partition.
type ROI []bool

// NewROI returns an ROI of n positions, all set to v.
func NewROI(n int, v bool) ROI {
	r := make(ROI, n)
	if v {
		for i := range r {
			r[i] = true
		}
	}
	return r
}

// Count is the number of selected positions.
func (r ROI) Count() int {
	return r.CountRange(0, len(r))
}

// CountRange counts selected positions in [start, end).
func (r ROI) CountRange(start, end int) int {
	n := 0
	for _, v := range r[start:end] {
		if v {
			n++
		}
	}
	return n
}

// selection is an ROI resolved against one partition.
type selection struct {
	// frames are partition-relative indices of selected frames, ascending.
	frames []int
	// base is the number of selected frames before the partition, which is the
	// navigation origin of the partition's data in ROI-compressed coordinates.
	base int
}

// resolve maps r onto the partition [start, start+count) of a dataset with
// navSize positions. A nil ROI selects everything and keeps dataset coordinates.
func (r ROI) resolve(navSize, start, count int) (selection, error) {
	if r == nil {
		frames := make([]int, count)
		for i := range frames {
			frames[i] = i
		}
		return selection{frames: frames, base: start}, nil
	}

	var local ROI
	base := 0
	switch len(r) {
	case navSize:
		local = r[start : start+count]
		base = r.CountRange(0, start)
	case count:
		local = r
	default:
		return selection{}, configErrorf("roi has %d entries, want %d (dataset) or %d (partition)", len(r), navSize, count)
	}

	frames := make([]int, 0, local.Count())
	for i, v := range local {
		if v {
			frames = append(frames, i)
		}
	}
	return selection{frames: frames, base: base}, nil
}
