package framestack

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Open("missing"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
	if err := s.Put("a", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatal(err)
	}
	f, err := s.Open("a")
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != 5 || s.OpenFiles() != 1 {
		t.Errorf("size %d, open %d", f.Size(), s.OpenFiles())
	}
	f.Close()
	f.Close()
	if s.OpenFiles() != 0 {
		t.Errorf("double close: %d open files", s.OpenFiles())
	}
	if size, err := s.Stat("a"); err != nil || size != 5 {
		t.Errorf("Stat: %d, %v", size, err)
	}
	if _, err := s.Stat("missing"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
	if _, err := OpenStore(s.Meta()); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig reopening a memory store, got %v", err)
	}
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("sub/a.bin", bytes.NewReader([]byte{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	if got := s.Path("sub/a.bin"); got != filepath.Join(dir, "sub", "a.bin") {
		t.Errorf("Path: %s", got)
	}
	f, err := s.Open("sub/a.bin")
	if err != nil {
		t.Fatal(err)
	}
	b := make([]byte, 2)
	if _, err := f.ReadAt(b, 2); err != nil {
		t.Fatal(err)
	}
	if b[0] != 3 || b[1] != 4 {
		t.Errorf("ReadAt: %v", b)
	}
	f.Close()
	if s.OpenFiles() != 0 {
		t.Errorf("%d open files", s.OpenFiles())
	}
	if _, err := s.Open("nope"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
	if size, err := s.Stat("sub/a.bin"); err != nil || size != 4 {
		t.Errorf("Stat: %d, %v", size, err)
	}
	if _, err := s.Stat("nope"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
	if _, err := s.Stat("sub"); !errors.Is(err, ErrResource) {
		t.Errorf("expected ErrResource for a directory, got %v", err)
	}

	re, err := OpenStore(s.Meta())
	if err != nil {
		t.Fatal(err)
	}
	if re.Meta() != s.Meta() {
		t.Errorf("reopened store: %+v", re.Meta())
	}
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCompressedStore(t *testing.T) {
	inner := NewMemoryStore()
	data := bytes.Repeat([]byte("framestack"), 100)
	if err := inner.Put("x.bin", bytes.NewReader(gzipped(t, data))); err != nil {
		t.Fatal(err)
	}

	s := NewCompressedStore(inner, CompressionMeta{ID: "gzip"})
	s.SpoolDir = t.TempDir()

	rc, err := s.Get("x.bin")
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Get returned different data")
	}

	f, err := s.Open("x.bin")
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != int64(len(data)) {
		t.Errorf("size %d, want %d", f.Size(), len(data))
	}
	b := make([]byte, 10)
	if _, err := f.ReadAt(b, 20); err != nil {
		t.Fatal(err)
	}
	if string(b) != "framestack" {
		t.Errorf("ReadAt: %q", b)
	}
	if s.OpenFiles() != 1 {
		t.Errorf("%d open files", s.OpenFiles())
	}
	f.Close()
	if s.OpenFiles() != 0 {
		t.Errorf("%d open files after close", s.OpenFiles())
	}
	spooled, err := os.ReadDir(s.SpoolDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(spooled) != 0 {
		t.Errorf("spool files left behind: %v", spooled)
	}

	if err := inner.Put("plain.bin", bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open("plain.bin"); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for uncompressed data, got %v", err)
	}
	if _, err := s.Stat("plain.bin"); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat from Stat of uncompressed data, got %v", err)
	}
	if len(s.spools) != 0 {
		t.Errorf("failed opens left %d spools", len(s.spools))
	}

	meta := s.Meta()
	if meta.Type != CompressedStoreType || meta.Inner.Type != MemoryStoreType || meta.Compression.ID != "gzip" {
		t.Errorf("meta: %+v", meta)
	}
}
