package framestack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DescriptorVersion is the version of the descriptor layout.
const DescriptorVersion = 1

// Descriptor is the serialized form of a DataSet: identity and configuration
// only, never payload or handles. Reopening it re-reads the format headers.
type Descriptor struct {
	// An integer defining the version of the descriptor layout.
	Version int `json:"framestack_format"`
	// Name of a registered format.
	Format string `json:"format"`
	// Format specific open parameters.
	Params Params `json:"params"`
	// Identity of the store holding the dataset's files.
	Store StoreMeta `json:"store"`

	// Derived on open; checked again when the descriptor is reopened so a
	// changed file is noticed.
	Shape Shape `json:"shape"`
	Dtype Dtype `json:"dtype"`

	NumPartitions int             `json:"num_partitions"`
	Backend       json.RawMessage `json:"backend,omitempty"`
}

// Open reopens the described dataset. Options override the recorded store,
// backend and partitioning.
func (d *Descriptor) Open(opts ...Option) (*DataSet, error) {
	if d.Version != DescriptorVersion {
		return nil, configErrorf("unsupported descriptor version %d", d.Version)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	store := o.store
	if store == nil {
		s, err := OpenStore(d.Store)
		if err != nil {
			return nil, err
		}
		store = s
	}
	b, err := unmarshalBackend(d.Backend)
	if err != nil {
		return nil, err
	}

	all := []Option{WithNumPartitions(d.NumPartitions)}
	if b != nil {
		all = append(all, WithBackend(b))
	}
	all = append(all, opts...)
	ds, err := Open(store, d.Format, d.Params, all...)
	if err != nil {
		return nil, err
	}
	if !ds.Shape().Equal(d.Shape) || ds.Dtype() != d.Dtype {
		return nil, formatErrorf("dataset changed since it was described: %s %s, now %s %s",
			d.Shape, d.Dtype, ds.Shape(), ds.Dtype())
	}
	return ds, nil
}

// CacheKey is a JSON-serializable identity of a dataset configuration,
// stable across processes for the same store, format and parameters.
type CacheKey map[string]interface{}

// Digest is a hex SHA-256 of the key's canonical JSON form. encoding/json
// sorts map keys, which makes the encoding canonical.
func (k CacheKey) Digest() (string, error) {
	d, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(d)
	return hex.EncodeToString(sum[:]), nil
}
