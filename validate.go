package framestack

import (
	"github.com/qri-io/framestack/log"
)

// Diagnostic is one named entry of a dataset's diagnostics. Values are
// JSON-serializable.
type Diagnostic struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// SectorStats summarizes one sector file.
type SectorStats struct {
	Sector       int    `json:"sector"`
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	SyncOffset   int64  `json:"sync_offset"`
	Blocks       int64  `json:"blocks"`
	Frames       int64  `json:"frames"`
	FirstFrameID uint64 `json:"first_frame_id"`
	TrailingSize int64  `json:"trailing_bytes"`
}

// Diagnostics reports the dataset's structure for operators: shape, type,
// partitioning and per-sector statistics, plus whatever the format adds.
// Sector statistics come from file sizes and headers, not payload.
func (ds *DataSet) Diagnostics() []Diagnostic {
	diags := []Diagnostic{
		{Name: "format", Value: ds.format.Name()},
		{Name: "shape", Value: ds.Shape().Dims()},
		{Name: "dtype", Value: ds.Dtype().String()},
		{Name: "partitions", Value: ds.NumPartitions()},
		{Name: "backend", Value: string(ds.backend.Kind())},
	}
	stats, err := ds.sectorStats()
	if err != nil {
		diags = append(diags, Diagnostic{Name: "sector_error", Value: err.Error()})
	} else {
		diags = append(diags, Diagnostic{Name: "sectors", Value: stats})
	}
	if d, ok := ds.source.(Diagnoser); ok {
		diags = append(diags, d.Diagnostics()...)
	}
	return diags
}

func (ds *DataSet) sectorStats() ([]SectorStats, error) {
	secs := ds.source.Sectors()
	out := make([]SectorStats, len(secs))
	for i, sec := range secs {
		size, err := ds.store.Stat(sec.Key)
		if err != nil {
			return nil, err
		}

		usable := max(0, size-sec.Offset)
		blocks := usable / sec.BlockSize
		out[i] = SectorStats{
			Sector:       i,
			Key:          sec.Key,
			Size:         size,
			SyncOffset:   sec.Offset,
			Blocks:       blocks,
			Frames:       blocks / int64(sec.BlocksPerFrame),
			FirstFrameID: sec.FirstFrameID,
			TrailingSize: usable % sec.BlockSize,
		}
	}
	return out, nil
}

// CheckValid reports whether the dataset's structure is intact. Failures are
// logged with their reason; use Validate to get it as an error.
func (ds *DataSet) CheckValid() bool {
	if err := ds.Validate(); err != nil {
		ds.log.Warn("dataset is not valid", log.String("format", ds.format.Name()), log.Err(err))
		return false
	}
	return true
}

// Validate checks headers and indices without reading payload: every sector
// must hold all frames, and the first and last block of every sector must
// carry the expected frame ids.
func (ds *DataSet) Validate() error {
	if err := validateSource(ds.source); err != nil {
		return err
	}
	stats, err := ds.sectorStats()
	if err != nil {
		return err
	}
	frames := int64(ds.Shape().NavSize())
	for _, st := range stats {
		if st.Frames < frames {
			return formatErrorf("sector %s holds %d frames, want %d", st.Key, st.Frames, frames)
		}
	}

	if hs := ds.source.HeaderSize(); hs > 0 {
		r, err := (&BufferedBackend{WindowSize: hs}).Open(ds.store, sectorKeys(ds.source))
		if err != nil {
			return err
		}
		defer r.Close()
		for i, sec := range ds.source.Sectors() {
			for _, frame := range []int64{0, frames - 1} {
				for _, k := range []int64{0, int64(sec.BlocksPerFrame - 1)} {
					off := sec.Offset + (frame*int64(sec.BlocksPerFrame)+k)*sec.BlockSize
					raw, err := r.ReadRegion(i, off, hs)
					if err != nil {
						return err
					}
					h, err := ds.source.DecodeHeader(raw)
					if err != nil {
						return FormatError(err)
					}
					if want := sec.FirstFrameID + uint64(frame); h.FrameID != want {
						return formatErrorf("sector %s: block %d of frame %d carries frame id %d, want %d",
							sec.Key, k, frame, h.FrameID, want)
					}
				}
			}
		}
	}

	if v, ok := ds.source.(Validator); ok {
		if err := v.Validate(ds.store); err != nil {
			return FormatError(err)
		}
	}
	return nil
}
