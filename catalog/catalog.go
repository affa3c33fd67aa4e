// Package catalog keeps an on-disk index of opened datasets, keyed by the
// digest of their cache key. Entries hold the dataset descriptor, so a
// cataloged dataset can be reopened without detection.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/qri-io/framestack"
)

var bucketDatasets = []byte("datasets")

// Entry is one cataloged dataset.
type Entry struct {
	Digest      string                  `json:"digest"`
	Format      string                  `json:"format"`
	CacheKey    framestack.CacheKey     `json:"cache_key"`
	Descriptor  json.RawMessage         `json:"descriptor"`
	Diagnostics []framestack.Diagnostic `json:"diagnostics,omitempty"`
	Valid       bool                    `json:"valid"`
	Added       time.Time               `json:"added"`
}

// Index is a bbolt backed catalog.
type Index struct {
	db *bbolt.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDatasets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

// Add records ds, replacing an entry with the same digest. Validation and
// diagnostics are captured at the time of the call.
func (ix *Index) Add(ds *framestack.DataSet) (*Entry, error) {
	key := ds.CacheKey()
	digest, err := key.Digest()
	if err != nil {
		return nil, err
	}
	desc, err := json.Marshal(ds)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Digest:      digest,
		Format:      ds.Format(),
		CacheKey:    key,
		Descriptor:  desc,
		Diagnostics: ds.Diagnostics(),
		Valid:       ds.Validate() == nil,
		Added:       time.Now().UTC(),
	}

	err = ix.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDatasets).Put([]byte(digest), data)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the entry for digest, or an error wrapping
// framestack.ErrNotfound.
func (ix *Index) Get(digest string) (*Entry, error) {
	var e Entry
	err := ix.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDatasets).Get([]byte(digest))
		if data == nil {
			return fmt.Errorf("%w: dataset %s", framestack.ErrNotfound, digest)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns every entry ordered by digest.
func (ix *Index) List() ([]*Entry, error) {
	var entries []*Entry
	err := ix.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatasets).ForEach(func(k, v []byte) error {
			e := &Entry{}
			if err := json.Unmarshal(v, e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the entry for digest and reports whether it existed.
func (ix *Index) Delete(digest string) (bool, error) {
	found := false
	err := ix.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		if b.Get([]byte(digest)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(digest))
	})
	return found, err
}

// OpenDataSet reopens the cataloged dataset. Options are passed on to
// framestack.UnmarshalDataSet.
func (ix *Index) OpenDataSet(digest string, opts ...framestack.Option) (*framestack.DataSet, error) {
	e, err := ix.Get(digest)
	if err != nil {
		return nil, err
	}
	return framestack.UnmarshalDataSet(e.Descriptor, opts...)
}

func (ix *Index) Close() error {
	return ix.db.Close()
}
