package framestack

import (
	"encoding/json"
	"iter"

	"github.com/qri-io/framestack/log"
)

// DefaultPartitionBytes is the target payload size of one partition.
const DefaultPartitionBytes = 512 << 20

// DataSet describes a whole frame stack: its format, open parameters, store,
// shape, element type and partitioning. It is immutable once opened and
// holds no open handles, so it can be shared by concurrent readers.
type DataSet struct {
	format  Format
	params  Params
	store   Store
	source  FrameSource
	backend Backend
	log     log.Logger

	partitionBytes int
	// bounds[i] is the first frame of partition i; the last entry is the
	// number of frames.
	bounds []int
}

// Option configures Open.
type Option func(*options)

type options struct {
	backend        Backend
	logger         log.Logger
	numPartitions  int
	partitionBytes int
	store          Store
}

// WithBackend selects the IO strategy. The buffered backend is the default.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets a logger. If not provided, nothing is logged.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNumPartitions fixes the number of partitions. It is clamped to the
// number of frames.
func WithNumPartitions(n int) Option {
	return func(o *options) { o.numPartitions = n }
}

// WithPartitionBytes sets the target payload size per partition, used when
// the number of partitions is not fixed.
func WithPartitionBytes(n int) Option {
	return func(o *options) { o.partitionBytes = n }
}

// WithStore overrides the store recorded in a descriptor when reopening a
// dataset, which is required for memory stores.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// Open initializes the dataset at params in store using the named format.
func Open(store Store, format string, params Params, opts ...Option) (*DataSet, error) {
	o := options{partitionBytes: DefaultPartitionBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store != nil {
		store = o.store
	}
	if store == nil {
		return nil, configErrorf("no store")
	}
	if o.backend == nil {
		o.backend = &BufferedBackend{}
	}
	if o.logger == nil {
		o.logger = log.NoopLogger{}
	}

	f, err := lookupFormat(format)
	if err != nil {
		return nil, err
	}
	src, err := f.Open(store, params)
	if err != nil {
		return nil, err
	}
	if err := src.Dtype().Numeric(); err != nil {
		return nil, FormatError(err)
	}
	if err := validateSource(src); err != nil {
		return nil, err
	}
	navSize := src.Shape().NavSize()
	if navSize == 0 {
		return nil, formatErrorf("dataset has no frames")
	}

	ds := &DataSet{
		format:         f,
		params:         params.Clone(),
		store:          store,
		source:         src,
		backend:        o.backend,
		log:            o.logger,
		partitionBytes: o.partitionBytes,
	}
	ds.bounds = partitionBounds(navSize, ds.numPartitions(o.numPartitions))
	ds.log.Debug("dataset opened",
		log.String("format", format),
		log.String("shape", src.Shape().String()),
		log.String("dtype", src.Dtype().String()),
		log.Int("partitions", len(ds.bounds)-1),
	)
	return ds, nil
}

func (ds *DataSet) numPartitions(fixed int) int {
	navSize := ds.source.Shape().NavSize()
	n := fixed
	if n <= 0 {
		total := int64(navSize) * int64(ds.source.Shape().SigSize()) * int64(ds.source.Dtype().ItemSize())
		per := int64(max(1, ds.partitionBytes))
		n = int((total + per - 1) / per)
	}
	return max(1, min(n, navSize))
}

// partitionBounds splits frames into n contiguous ranges of near equal size.
func partitionBounds(frames, n int) []int {
	bounds := make([]int, n+1)
	for i := 0; i <= n; i++ {
		bounds[i] = int(int64(i) * int64(frames) / int64(n))
	}
	return bounds
}

// Format is the name of the dataset's format.
func (ds *DataSet) Format() string { return ds.format.Name() }

// Params returns a copy of the open parameters.
func (ds *DataSet) Params() Params { return ds.params.Clone() }

// Shape is the full dataset shape, navigation dimensions first.
func (ds *DataSet) Shape() Shape { return ds.source.Shape() }

// Dtype is the native element type of the stored frames.
func (ds *DataSet) Dtype() Dtype { return ds.source.Dtype() }

// Store returns the store the dataset reads from.
func (ds *DataSet) Store() Store { return ds.store }

// Backend returns the IO strategy used by partitions.
func (ds *DataSet) Backend() Backend { return ds.backend }

// Source returns the format decoder's view of the dataset.
func (ds *DataSet) Source() FrameSource { return ds.source }

// NumPartitions is the number of partitions.
func (ds *DataSet) NumPartitions() int { return len(ds.bounds) - 1 }

// Partition returns partition i.
func (ds *DataSet) Partition(i int) (*Partition, error) {
	if i < 0 || i >= ds.NumPartitions() {
		return nil, configErrorf("partition %d out of range [0, %d)", i, ds.NumPartitions())
	}
	return &Partition{ds: ds, index: i, start: ds.bounds[i], frames: ds.bounds[i+1] - ds.bounds[i]}, nil
}

// Partitions yields the partitions in ascending frame order. Together they
// cover every frame exactly once. Each call starts a fresh sequence.
func (ds *DataSet) Partitions() iter.Seq[*Partition] {
	return func(yield func(*Partition) bool) {
		for i := 0; i < ds.NumPartitions(); i++ {
			p, _ := ds.Partition(i)
			if !yield(p) {
				return
			}
		}
	}
}

// Descriptor is the metadata-only description of the dataset.
func (ds *DataSet) Descriptor() *Descriptor {
	return &Descriptor{
		Version:       DescriptorVersion,
		Format:        ds.format.Name(),
		Params:        ds.params.Clone(),
		Store:         ds.store.Meta(),
		Shape:         ds.Shape(),
		Dtype:         ds.Dtype(),
		NumPartitions: ds.NumPartitions(),
		Backend:       marshalBackend(ds.backend),
	}
}

// MarshalJSON encodes the dataset's Descriptor. The result does not depend
// on the amount of data in the dataset.
func (ds *DataSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ds.Descriptor())
}

// UnmarshalDataSet reopens a dataset from its JSON descriptor.
func UnmarshalDataSet(d []byte, opts ...Option) (*DataSet, error) {
	desc := &Descriptor{}
	if err := json.Unmarshal(d, desc); err != nil {
		return nil, ConfigError(err)
	}
	return desc.Open(opts...)
}

// CacheKey identifies the dataset's configuration.
func (ds *DataSet) CacheKey() CacheKey {
	shape := ds.Shape()
	return CacheKey{
		"format":   ds.format.Name(),
		"store":    ds.store.Meta(),
		"params":   ds.params.Clone(),
		"shape":    shape.Dims(),
		"sig_dims": shape.SigDims(),
		"dtype":    ds.Dtype().String(),
	}
}
