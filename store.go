package framestack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const (
	MemoryStoreType     = "MemoryStore"
	LocalStoreType      = "LocalStore"
	CompressedStoreType = "CompressedStore"
	dirPermissionBits   = 0755
)

// File is a random-access handle to one stored object.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Store holds the objects a dataset is made of, addressed by key.
type Store interface {
	// Open returns a random-access handle. Callers must Close it.
	Open(key string) (File, error)
	// Stat reports the size of an object without opening a handle or
	// reading its payload. Missing keys wrap ErrNotfound.
	Stat(key string) (int64, error)
	Get(key string) (io.ReadCloser, error)
	Put(key string, val io.Reader) error
	Type() string
	// OpenFiles is the number of handles returned by Open and not yet closed.
	OpenFiles() int
	Meta() StoreMeta
}

// LocalPather is implemented by stores whose objects are plain local files,
// which is what memory mapping requires.
type LocalPather interface {
	Path(key string) string
}

// StoreMeta is the serializable identity of a Store.
type StoreMeta struct {
	Type        string           `json:"type"`
	Base        string           `json:"base,omitempty"`
	Compression *CompressionMeta `json:"compression,omitempty"`
	Inner       *StoreMeta       `json:"inner,omitempty"`
}

// OpenStore reconstructs a store from its metadata. Memory stores cannot be
// reopened from metadata alone.
func OpenStore(m StoreMeta) (Store, error) {
	switch m.Type {
	case LocalStoreType:
		return NewLocalStore(m.Base)
	case CompressedStoreType:
		if m.Inner == nil || m.Compression == nil {
			return nil, configErrorf("compressed store metadata is incomplete")
		}
		inner, err := OpenStore(*m.Inner)
		if err != nil {
			return nil, err
		}
		return NewCompressedStore(inner, *m.Compression), nil
	case MemoryStoreType:
		return nil, configErrorf("a %s cannot be reopened from metadata, pass the store explicitly", m.Type)
	default:
		return nil, configErrorf("unknown store type %q", m.Type)
	}
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
	open atomic.Int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Meta() StoreMeta { return StoreMeta{Type: MemoryStoreType} }

func (s *MemoryStore) OpenFiles() int { return int(s.open.Load()) }

func (s *MemoryStore) Get(key string) (io.ReadCloser, error) {
	d, err := s.bytes(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Open(key string) (File, error) {
	d, err := s.bytes(key)
	if err != nil {
		return nil, err
	}
	s.open.Add(1)
	return &memFile{Reader: bytes.NewReader(d), size: int64(len(d)), done: func() { s.open.Add(-1) }}, nil
}

func (s *MemoryStore) Stat(key string) (int64, error) {
	d, err := s.bytes(key)
	if err != nil {
		return 0, err
	}
	return int64(len(d)), nil
}

func (s *MemoryStore) bytes(key string) ([]byte, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return d, nil
}

func (s *MemoryStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d

	return nil
}

type memFile struct {
	*bytes.Reader
	size int64
	once sync.Once
	done func()
}

func (f *memFile) Size() int64 { return f.size }

func (f *memFile) Close() error {
	f.once.Do(f.done)
	return nil
}

type LocalStore struct {
	base string
	open atomic.Int64
}

var (
	_ Store       = (*LocalStore)(nil)
	_ LocalPather = (*LocalStore)(nil)
)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, err
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

func (s *LocalStore) Meta() StoreMeta { return StoreMeta{Type: LocalStoreType, Base: s.base} }

func (s *LocalStore) OpenFiles() int { return int(s.open.Load()) }

// Path is the filesystem path of key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.base, key)
}

func (s *LocalStore) Get(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return f, err
}

func (s *LocalStore) Open(key string) (File, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		return nil, resourceErrorf("open %s: %v", key, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, resourceErrorf("stat %s: %v", key, err)
	}
	s.open.Add(1)
	return &localFile{File: f, size: fi.Size(), done: func() { s.open.Add(-1) }}, nil
}

func (s *LocalStore) Stat(key string) (int64, error) {
	fi, err := os.Stat(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		return 0, resourceErrorf("stat %s: %v", key, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, resourceErrorf("stat %s: not a regular file", key)
	}
	return fi.Size(), nil
}

func (s *LocalStore) Put(key string, val io.Reader) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, val); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type localFile struct {
	*os.File
	size int64
	once sync.Once
	done func()
}

func (f *localFile) Size() int64 { return f.size }

func (f *localFile) Close() error {
	err := f.File.Close()
	f.once.Do(f.done)
	return err
}
