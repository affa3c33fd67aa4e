package framestack

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta defines compression settings framestack understands
type CompressionMeta struct {
	ID string `json:"id"`
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	return compression.Decompressor(m.ID, r)
}

func (m *CompressionMeta) gzip() bool {
	f, err := compression.ParseFormat(m.ID)
	return err == nil && f == compression.FmtGZip
}

const (
	// smallest possible gzip member: 10 byte header, empty deflate block,
	// 8 byte trailer
	gzipMinSize = 18
	// deflate cannot expand data by more than this factor, so objects below
	// 1<<32/maxDeflateRatio compressed bytes have an exact ISIZE trailer
	maxDeflateRatio = 1032
)

// CompressedStore reads objects of an inner store that were written
// compressed. Open decompresses an object once into a spool file in SpoolDir
// so reads stay random-access with bounded memory. Concurrent handles to the
// same key share one spool file, which is removed when the last of them is
// closed. Compressed objects cannot be memory mapped, use the buffered
// backend.
//
// Stat never spools. Gzip sizes come from the stream trailer, which describes
// the last member only, so objects must be written as a single gzip member.
// Other sizes are counted by streaming the object once and cached until the
// compressed size changes.
type CompressedStore struct {
	inner       Store
	compression CompressionMeta
	// SpoolDir defaults to os.TempDir.
	SpoolDir string
	open     atomic.Int64

	mu     sync.Mutex
	spools map[string]*spool
	sizes  map[string]objectSize
}

var _ Store = (*CompressedStore)(nil)

type spool struct {
	ready chan struct{}
	f     *os.File
	size  int64
	err   error
	refs  int
}

type objectSize struct {
	compressed, size int64
}

func NewCompressedStore(inner Store, m CompressionMeta) *CompressedStore {
	return &CompressedStore{
		inner:       inner,
		compression: m,
		spools:      map[string]*spool{},
		sizes:       map[string]objectSize{},
	}
}

func (s *CompressedStore) Type() string { return CompressedStoreType }

func (s *CompressedStore) Meta() StoreMeta {
	inner := s.inner.Meta()
	c := s.compression
	return StoreMeta{Type: CompressedStoreType, Compression: &c, Inner: &inner}
}

func (s *CompressedStore) OpenFiles() int { return int(s.open.Load()) }

// Get streams the decompressed object.
func (s *CompressedStore) Get(key string) (io.ReadCloser, error) {
	rc, err := s.inner.Get(key)
	if err != nil {
		return nil, err
	}
	dr, err := s.compression.Decompressor(rc)
	if err != nil {
		rc.Close()
		return nil, FormatError(err)
	}
	return &chainCloser{ReadCloser: dr, next: rc}, nil
}

// Stat reports the decompressed size of key.
func (s *CompressedStore) Stat(key string) (int64, error) {
	csize, err := s.inner.Stat(key)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	sz, ok := s.sizes[key]
	s.mu.Unlock()
	if ok && sz.compressed == csize {
		return sz.size, nil
	}

	size, ok, err := s.trailerSize(key, csize)
	if err != nil {
		return 0, err
	}
	if !ok {
		if size, err = s.countSize(key); err != nil {
			return 0, err
		}
	}
	s.remember(key, csize, size)
	return size, nil
}

// trailerSize reads the ISIZE field of a gzip object. ok is false when the
// trailer cannot be trusted to hold the exact size.
func (s *CompressedStore) trailerSize(key string, csize int64) (size int64, ok bool, err error) {
	if !s.compression.gzip() || csize < gzipMinSize || csize*maxDeflateRatio >= 1<<32 {
		return 0, false, nil
	}
	f, err := s.inner.Open(key)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	var magic [2]byte
	if err := readFull(f, magic[:], 0); err != nil {
		return 0, false, resourceErrorf("read %s: %v", key, err)
	}
	if magic != [2]byte{0x1f, 0x8b} {
		return 0, false, formatErrorf("%s is not gzip data", key)
	}
	var trailer [4]byte
	if err := readFull(f, trailer[:], csize-4); err != nil {
		return 0, false, resourceErrorf("read %s: %v", key, err)
	}
	return int64(binary.LittleEndian.Uint32(trailer[:])), true, nil
}

func (s *CompressedStore) countSize(key string) (int64, error) {
	rc, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, FormatError(err)
	}
	return n, nil
}

func (s *CompressedStore) remember(key string, csize, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sizes == nil {
		s.sizes = map[string]objectSize{}
	}
	s.sizes[key] = objectSize{compressed: csize, size: size}
}

func (s *CompressedStore) Open(key string) (File, error) {
	s.mu.Lock()
	if s.spools == nil {
		s.spools = map[string]*spool{}
	}
	sp, shared := s.spools[key]
	if !shared {
		sp = &spool{ready: make(chan struct{})}
		s.spools[key] = sp
	}
	sp.refs++
	s.mu.Unlock()

	if !shared {
		sp.f, sp.size, sp.err = s.fill(key)
		close(sp.ready)
	}
	<-sp.ready
	if sp.err != nil {
		s.release(key, sp)
		return nil, sp.err
	}
	s.open.Add(1)
	return &spoolFile{sp: sp, done: func() {
		s.release(key, sp)
		s.open.Add(-1)
	}}, nil
}

// fill decompresses key into a new spool file.
func (s *CompressedStore) fill(key string) (*os.File, int64, error) {
	rc, err := s.Get(key)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(s.SpoolDir, "framestack-spool-*")
	if err != nil {
		return nil, 0, resourceErrorf("create spool file: %v", err)
	}
	n, err := io.Copy(tmp, rc)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, FormatError(err)
	}
	if csize, err := s.inner.Stat(key); err == nil {
		s.remember(key, csize, n)
	}
	return tmp, n, nil
}

func (s *CompressedStore) release(key string, sp *spool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp.refs--
	if sp.refs > 0 {
		return
	}
	if s.spools[key] == sp {
		delete(s.spools, key)
	}
	if sp.f != nil {
		sp.f.Close()
		os.Remove(sp.f.Name())
	}
}

// Put stores val as is; callers provide already compressed data. Handles
// opened before Put keep reading the old spool.
func (s *CompressedStore) Put(key string, val io.Reader) error {
	s.mu.Lock()
	delete(s.spools, key)
	delete(s.sizes, key)
	s.mu.Unlock()
	return s.inner.Put(key, val)
}

type chainCloser struct {
	io.ReadCloser
	next io.Closer
}

func (c *chainCloser) Close() error {
	err := c.ReadCloser.Close()
	if nerr := c.next.Close(); err == nil {
		err = nerr
	}
	return err
}

// readFull fills b from off, accepting io.EOF that arrives with the last byte.
func readFull(r io.ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// spoolFile is one handle to a shared spool.
type spoolFile struct {
	sp   *spool
	once sync.Once
	done func()
}

func (f *spoolFile) ReadAt(p []byte, off int64) (int, error) { return f.sp.f.ReadAt(p, off) }

func (f *spoolFile) Size() int64 { return f.sp.size }

func (f *spoolFile) Close() error {
	f.once.Do(f.done)
	return nil
}
