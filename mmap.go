package framestack

import (
	"sync/atomic"
)

// MMapBackend maps the dataset's files read-only and hands out views straight
// into the mapping. The files must be local (the store must implement
// LocalPather) and must not change while mapped.
type MMapBackend struct {
	mappings atomic.Int64
}

var _ Backend = (*MMapBackend)(nil)

func (b *MMapBackend) Kind() BackendKind { return BackendMMap }

// Mappings is the number of live mappings created by this backend.
func (b *MMapBackend) Mappings() int { return int(b.mappings.Load()) }

func (b *MMapBackend) Open(store Store, keys []string) (RegionReader, error) {
	lp, ok := store.(LocalPather)
	if !ok {
		return nil, resourceErrorf("memory mapping needs local files, store is a %s", store.Type())
	}
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = lp.Path(k)
	}
	return &mmapReader{backend: b, keys: keys, paths: paths, maps: make([][]byte, len(keys)), mapped: make([]bool, len(keys))}, nil
}

type mmapReader struct {
	backend *MMapBackend
	keys    []string
	paths   []string
	maps    [][]byte
	mapped  []bool
}

func (r *mmapReader) view(i int) ([]byte, error) {
	if i < 0 || i >= len(r.maps) {
		return nil, configErrorf("file index %d out of range", i)
	}
	if !r.mapped[i] {
		m, err := mapFile(r.paths[i])
		if err != nil {
			return nil, err
		}
		r.maps[i], r.mapped[i] = m, true
		r.backend.mappings.Add(1)
	}
	return r.maps[i], nil
}

func (r *mmapReader) Size(i int) (int64, error) {
	m, err := r.view(i)
	if err != nil {
		return 0, err
	}
	return int64(len(m)), nil
}

func (r *mmapReader) ReadRegion(i int, off int64, n int) ([]byte, error) {
	m, err := r.view(i)
	if err != nil {
		return nil, err
	}
	end := off + int64(n)
	if off < 0 || end > int64(len(m)) {
		return nil, formatErrorf("region [%d, %d) of %s is outside the file (size %d)", off, end, r.keys[i], len(m))
	}
	return m[off:end:end], nil
}

func (r *mmapReader) Close() error {
	var first error
	for i := range r.maps {
		if !r.mapped[i] {
			continue
		}
		if err := unmapFile(r.maps[i]); err != nil && first == nil {
			first = resourceErrorf("unmap %s: %v", r.keys[i], err)
		}
		r.maps[i], r.mapped[i] = nil, false
		r.backend.mappings.Add(-1)
	}
	return first
}
