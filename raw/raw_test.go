package raw

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/qri-io/framestack"
)

// frames returns n frames of h x w little-endian uint16 where element i of
// the stack holds i.
func frames(n, h, w int) []byte {
	b := make([]byte, n*h*w*2)
	for i := 0; i < n*h*w; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(i))
	}
	return b
}

func put(t *testing.T, s framestack.Store, key string, data []byte) {
	t.Helper()
	if err := s.Put(key, bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
}

func TestDetect(t *testing.T) {
	s := framestack.NewMemoryStore()
	name := "Capture52_.gtg_(4, 5, 6, 8)_uint16.raw"
	put(t, s, name, frames(20, 6, 8))

	res, err := framestack.Detect(s, name)
	if err != nil {
		t.Fatal(err)
	}
	if res.Format != FormatName {
		t.Fatalf("detected %q", res.Format)
	}
	d, err := json.Marshal(res.Parameters)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"dtype":"\u003cu2","nav_shape":[4,5],"path":"Capture52_.gtg_(4, 5, 6, 8)_uint16.raw","sig_shape":[6,8]}`
	if string(d) != want {
		t.Errorf("params:\n got  %s\n want %s", d, want)
	}

	ds, err := framestack.Open(s, res.Format, res.Parameters)
	if err != nil {
		t.Fatal(err)
	}
	if got := ds.Shape().String(); got != "(4, 5, 6, 8)" {
		t.Errorf("shape: %s", got)
	}
}

func TestDetectNoMatch(t *testing.T) {
	s := framestack.NewMemoryStore()
	cases := map[string][]byte{
		"wrong_size_(4, 5, 6, 8)_uint16.raw": frames(19, 6, 8),
		"two_dims_(6, 8)_uint16.raw":         frames(1, 6, 8),
		"bad_type_(1, 6, 8)_bool.raw":        make([]byte, 48),
		"plain.raw":                          frames(1, 6, 8),
	}
	for name, data := range cases {
		put(t, s, name, data)
		if _, err := framestack.Detect(s, name); !errors.Is(err, framestack.ErrNoMatch) {
			t.Errorf("%s: expected ErrNoMatch, got %v", name, err)
		}
	}
}

func TestOpenShortFile(t *testing.T) {
	s := framestack.NewMemoryStore()
	put(t, s, "short.raw", frames(3, 6, 8))

	_, err := framestack.Open(s, FormatName, framestack.Params{
		"path":      "short.raw",
		"nav_shape": []int{4},
		"sig_shape": []int{6, 8},
		"dtype":     "uint16",
	})
	if !errors.Is(err, framestack.ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}

	_, err = framestack.Open(s, FormatName, framestack.Params{"path": "short.raw"})
	if !errors.Is(err, framestack.ErrConfig) {
		t.Errorf("expected ErrConfig for missing parameters, got %v", err)
	}
}

func TestSyncOffset(t *testing.T) {
	s := framestack.NewMemoryStore()
	put(t, s, "pre.raw", append(make([]byte, 16), frames(3, 2, 4)...))

	// parameters as they come back from JSON
	var params framestack.Params
	err := json.Unmarshal([]byte(`{"path":"pre.raw","nav_shape":[3],"sig_shape":[2,4],"dtype":"<u2","sync_offset":16}`), &params)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := framestack.Open(s, FormatName, params)
	if err != nil {
		t.Fatal(err)
	}
	p, err := ds.Partition(0)
	if err != nil {
		t.Fatal(err)
	}
	tile, err := p.Macrotile(nil, framestack.Float64)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range tile.Data.Float64s() {
		if v != float64(i) {
			t.Fatalf("element %d = %v", i, v)
		}
	}

	diags := map[string]interface{}{}
	for _, d := range ds.Diagnostics() {
		diags[d.Name] = d.Value
	}
	if diags["frame_bytes"] != int64(16) || diags["extra_bytes"] != int64(0) {
		t.Errorf("diagnostics: %v", diags)
	}
}
