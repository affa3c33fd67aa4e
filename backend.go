package framestack

import (
	"encoding/json"
	"errors"
	"io"
)

// BackendKind names an IO strategy.
type BackendKind string

const (
	BackendMMap     BackendKind = "mmap"
	BackendBuffered BackendKind = "buffered"
)

// Backend is a strategy for reading byte regions of a dataset's files. All
// backends return identical bytes for identical requests; they differ only in
// cost and in where they work.
type Backend interface {
	Kind() BackendKind
	// Open acquires handles for the given store keys. The returned reader must
	// be closed, which releases every handle and mapping it holds.
	Open(store Store, keys []string) (RegionReader, error)
}

// RegionReader reads byte ranges of the files it was opened for.
type RegionReader interface {
	// ReadRegion returns exactly n bytes at off of file i. The slice is only
	// valid until the next call or Close, and must not be modified.
	ReadRegion(file int, off int64, n int) ([]byte, error)
	// Size is the length of file i in bytes.
	Size(file int) (int64, error)
	Close() error
}

// NewBackend returns the backend for kind.
func NewBackend(kind BackendKind) (Backend, error) {
	switch kind {
	case BackendMMap:
		return &MMapBackend{}, nil
	case BackendBuffered, "":
		return &BufferedBackend{}, nil
	default:
		return nil, configErrorf("unknown io backend %q", kind)
	}
}

// backendJSON is the serialized form of a backend selection.
type backendJSON struct {
	Kind       BackendKind `json:"kind"`
	WindowSize int         `json:"window_size,omitempty"`
}

func marshalBackend(b Backend) json.RawMessage {
	v := backendJSON{Kind: b.Kind()}
	if bb, ok := b.(*BufferedBackend); ok {
		v.WindowSize = bb.WindowSize
	}
	d, _ := json.Marshal(v)
	return d
}

func unmarshalBackend(d json.RawMessage) (Backend, error) {
	if len(d) == 0 {
		return nil, nil
	}
	var v backendJSON
	if err := json.Unmarshal(d, &v); err != nil {
		return nil, ConfigError(err)
	}
	b, err := NewBackend(v.Kind)
	if err != nil {
		return nil, err
	}
	if bb, ok := b.(*BufferedBackend); ok {
		bb.WindowSize = v.WindowSize
	}
	return b, nil
}

// DefaultWindowSize is the read-ahead window of the buffered backend.
const DefaultWindowSize = 4 << 20

// BufferedBackend copies requested regions into a reusable window buffer.
// It works with any Store, including remote and compressed ones.
type BufferedBackend struct {
	// WindowSize is the minimum number of bytes fetched per read.
	// DefaultWindowSize is used when zero.
	WindowSize int
}

var _ Backend = (*BufferedBackend)(nil)

func (b *BufferedBackend) Kind() BackendKind { return BackendBuffered }

func (b *BufferedBackend) Open(store Store, keys []string) (RegionReader, error) {
	window := b.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}
	r := &bufferedReader{store: store, keys: keys, files: make([]File, len(keys)), window: window, cur: -1}
	return r, nil
}

type bufferedReader struct {
	store  Store
	keys   []string
	files  []File
	window int

	buf    []byte
	cur    int   // file index the window belongs to
	curOff int64 // file offset of buf[0]
}

func (r *bufferedReader) file(i int) (File, error) {
	if i < 0 || i >= len(r.files) {
		return nil, configErrorf("file index %d out of range", i)
	}
	if r.files[i] == nil {
		f, err := r.store.Open(r.keys[i])
		if err != nil {
			if errors.Is(err, ErrNotfound) {
				return nil, resourceErrorf("open %s: %v", r.keys[i], err)
			}
			return nil, err
		}
		r.files[i] = f
	}
	return r.files[i], nil
}

func (r *bufferedReader) Size(i int) (int64, error) {
	f, err := r.file(i)
	if err != nil {
		return 0, err
	}
	return f.Size(), nil
}

func (r *bufferedReader) ReadRegion(i int, off int64, n int) ([]byte, error) {
	f, err := r.file(i)
	if err != nil {
		return nil, err
	}
	if off < 0 || off+int64(n) > f.Size() {
		return nil, formatErrorf("region [%d, %d) of %s is outside the file (size %d)", off, off+int64(n), r.keys[i], f.Size())
	}
	if r.cur == i && off >= r.curOff && off+int64(n) <= r.curOff+int64(len(r.buf)) {
		start := off - r.curOff
		return r.buf[start : start+int64(n)], nil
	}

	want := int64(max(n, r.window))
	want = min(want, f.Size()-off)
	if int64(cap(r.buf)) < want {
		r.buf = make([]byte, want)
	}
	r.buf = r.buf[:want]
	got, err := f.ReadAt(r.buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(got) == want) {
		r.cur = -1
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, formatErrorf("short read of %s at %d: %d of %d bytes", r.keys[i], off, got, want)
		}
		return nil, resourceErrorf("read %s: %v", r.keys[i], err)
	}
	r.cur, r.curOff = i, off
	return r.buf[:n], nil
}

func (r *bufferedReader) Close() error {
	var first error
	for i, f := range r.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		r.files[i] = nil
	}
	r.buf = nil
	r.cur = -1
	return first
}
