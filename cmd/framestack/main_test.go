package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qri-io/framestack"
	"github.com/qri-io/framestack/catalog"
)

const captureName = "cap_(2, 3, 4)_uint16.raw"

// writeCapture writes two 3x4 uint16 frames holding their element index.
func writeCapture(t *testing.T, dir string) {
	t.Helper()
	b := make([]byte, 2*24)
	for i := 0; i < 24; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(i))
	}
	if err := os.WriteFile(filepath.Join(dir, captureName), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), dir, args...)
}

func executeContext(ctx context.Context, dir string, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append(args, "--root", dir, "--config", filepath.Join(dir, "absent.toml"), "--log-level", "error"))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func decodeLines[T any](t *testing.T, out string) []T {
	t.Helper()
	var vs []T
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var v T
		if err := dec.Decode(&v); err != nil {
			t.Fatalf("decoding %q: %s", out, err)
		}
		vs = append(vs, v)
	}
	return vs
}

func TestDetectCmd(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)

	out, err := execute(t, dir, "detect", captureName)
	if err != nil {
		t.Fatal(err)
	}
	res := decodeLines[struct {
		Path   string `json:"path"`
		Format string `json:"format"`
	}](t, out)
	if len(res) != 1 || res[0].Format != "raw" || res[0].Path != captureName {
		t.Errorf("unexpected detection %s", out)
	}

	if _, err := execute(t, dir, "detect", "notes.txt"); !errors.Is(err, framestack.ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestTilesCmd(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)

	out, err := execute(t, dir, "tiles", captureName, "--tile-shape", "1,3,4")
	if err != nil {
		t.Fatal(err)
	}
	tiles := decodeLines[tileSummary](t, out)
	if len(tiles) != 2 {
		t.Fatalf("expected 2 tiles, got %d: %s", len(tiles), out)
	}
	if tiles[0].Mean != 5.5 || tiles[1].Mean != 17.5 {
		t.Errorf("unexpected means %v, %v", tiles[0].Mean, tiles[1].Mean)
	}
	if tiles[1].Origin[0] != 1 {
		t.Errorf("second tile should start at frame 1, got %v", tiles[1].Origin)
	}

	out, err = execute(t, dir, "tiles", captureName, "--tile-shape", "1,3,4", "--frames", "1")
	if err != nil {
		t.Fatal(err)
	}
	tiles = decodeLines[tileSummary](t, out)
	if len(tiles) != 1 {
		t.Fatalf("expected 1 tile, got %d: %s", len(tiles), out)
	}
	if tiles[0].Origin[0] != 0 || tiles[0].Mean != 17.5 {
		t.Errorf("unexpected tile %+v", tiles[0])
	}

	if _, err := execute(t, dir, "tiles", captureName, "--tile-shape", "1,3,3"); !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig for a tile that does not divide the frame, got %v", err)
	}
}

func TestMacrotileCmd(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)
	outFile := filepath.Join(dir, "tile.bin")

	out, err := execute(t, dir, "macrotile", captureName, "--partitions", "1", "-o", outFile)
	if err != nil {
		t.Fatal(err)
	}
	tiles := decodeLines[tileSummary](t, out)
	if len(tiles) != 1 {
		t.Fatalf("expected one summary, got %s", out)
	}
	tile := tiles[0]
	if got := tile.Shape; len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 4 {
		t.Errorf("unexpected shape %v", got)
	}
	if tile.Min != 0 || tile.Max != 23 || tile.Dtype != "<f4" {
		t.Errorf("unexpected tile %+v", tile)
	}

	st, err := os.Stat(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 2*12*4 {
		t.Errorf("expected 96 bytes of float32, got %d", st.Size())
	}
}

func TestInspectAndCatalog(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)
	db := filepath.Join(dir, "catalog.db")

	out, err := execute(t, dir, "inspect", captureName, "--add", "--catalog", db)
	if err != nil {
		t.Fatal(err)
	}
	var ins inspection
	if err := json.Unmarshal([]byte(out), &ins); err != nil {
		t.Fatal(err)
	}
	if !ins.Valid || ins.Digest == "" || ins.Descriptor.Format != "raw" {
		t.Errorf("unexpected inspection %s", out)
	}

	out, err = execute(t, dir, "catalog", "list", "--catalog", db)
	if err != nil {
		t.Fatal(err)
	}
	entries := decodeLines[struct {
		Digest string `json:"digest"`
	}](t, out)
	if len(entries) != 1 || entries[0].Digest != ins.Digest {
		t.Errorf("unexpected catalog %s", out)
	}

	if _, err := execute(t, dir, "catalog", "rm", ins.Digest, "--catalog", db); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "catalog", "rm", ins.Digest, "--catalog", db); !errors.Is(err, framestack.ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}

	if _, err := execute(t, dir, "inspect", captureName, "--add"); !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig without a catalog, got %v", err)
	}
}

func TestExplicitFormat(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)

	params := `{"nav_shape":[2],"sig_shape":[3,4],"dtype":"uint16"}`
	out, err := execute(t, dir, "macrotile", captureName, "--format", "raw", "--params", params, "--frames", "0")
	if err != nil {
		t.Fatal(err)
	}
	tiles := decodeLines[tileSummary](t, out)
	if len(tiles) != 1 || tiles[0].Max != 11 {
		t.Errorf("unexpected output %s", out)
	}

	if _, err := execute(t, dir, "inspect", captureName, "--params", params); !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig for --params without --format, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, dir, "detect", captureName, "--backend", "tape"); !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestBlocksCmd(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)

	out, err := execute(t, dir, "blocks", captureName)
	if err != nil {
		t.Fatal(err)
	}
	blocks := decodeLines[blockSummary](t, out)
	if len(blocks) != 2 {
		t.Fatalf("expected one block per frame, got %s", out)
	}
	for i, b := range blocks {
		if b.Offset != int64(24*i) || b.PayloadBytes != 24 {
			t.Errorf("block %d: %+v", i, b)
		}
	}

	out, err = execute(t, dir, "blocks", captureName, "--limit", "1")
	if err != nil {
		t.Fatal(err)
	}
	if blocks := decodeLines[blockSummary](t, out); len(blocks) != 1 {
		t.Errorf("--limit 1 printed %s", out)
	}

	if _, err := execute(t, dir, "blocks", captureName, "--sector", "3"); !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig for a missing sector, got %v", err)
	}
}

func TestParseFrames(t *testing.T) {
	roi, err := parseFrames("0, 3-5,9", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := framestack.ROI{true, false, false, true, true, true, false, false, false, true}
	for i := range want {
		if roi[i] != want[i] {
			t.Fatalf("parseFrames = %v, want %v", roi, want)
		}
	}

	if roi, err := parseFrames("", 10); err != nil || roi != nil {
		t.Errorf("empty selection should be nil, got %v, %v", roi, err)
	}
	for _, s := range []string{"10", "-1", "5-3", "a", "1-b"} {
		if _, err := parseFrames(s, 10); !errors.Is(err, framestack.ErrConfig) {
			t.Errorf("parseFrames(%q): expected ErrConfig, got %v", s, err)
		}
	}
}

// listWhenIdle opens the catalog once the watcher has closed it and returns
// its entries as soon as there are want of them.
func listWhenIdle(t *testing.T, db string, want int) []*catalog.Entry {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		ix, err := catalog.Open(db)
		if err == nil {
			entries, lerr := ix.List()
			ix.Close()
			if lerr != nil {
				t.Fatal(lerr)
			}
			if len(entries) >= want {
				return entries
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("catalog did not reach %d entries, last error: %v", want, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatchCmd(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir)
	db := filepath.Join(t.TempDir(), "catalog.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, dir, "watch", dir, "--existing", "--catalog", db,
			"--snooze-timeout", "50ms", "--debounce", "20ms")
		errs <- err
	}()

	// the catalog is only readable here after the watcher snoozed it
	entries := listWhenIdle(t, db, 1)
	if len(entries) != 1 || entries[0].Format != "raw" || !entries[0].Valid {
		t.Errorf("unexpected entries %+v", entries)
	}

	// new captures wake the catalog up again
	second := "cap_(1, 4, 6)_uint8.raw"
	if err := os.WriteFile(filepath.Join(dir, second), make([]byte, 24), 0o644); err != nil {
		t.Fatal(err)
	}
	if entries := listWhenIdle(t, db, 2); len(entries) != 2 {
		t.Errorf("unexpected entries %+v", entries)
	}

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("watch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestCatalogResource(t *testing.T) {
	res := &catalogResource{path: filepath.Join(t.TempDir(), "catalog.db")}
	if err := res.up(); err != nil {
		t.Fatal(err)
	}
	if err := res.up(); err != nil {
		t.Errorf("second up: %v", err)
	}
	if err := res.down(); err != nil {
		t.Fatal(err)
	}
	if err := res.down(); err != nil {
		t.Errorf("second down: %v", err)
	}
	if _, err := res.add(nil); !errors.Is(err, framestack.ErrResource) {
		t.Errorf("expected ErrResource adding to a closed catalog, got %v", err)
	}
}
