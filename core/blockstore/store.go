// Package blockstore implements C1: a content-addressed store of DAG-CBOR
// blocks over a persistent local KV backend, with named aliases and
// temporary pins for GC retention (spec.md §4.1).
//
// Grounded on the gloudx-ues blockstore reference: badger-backed datastore,
// go-cid/multihash addressing and an in-process LRU read cache.
package blockstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	badger4 "github.com/ipfs/go-ds-badger4"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/pkg/utils"
)

// Store is the content-addressed block store. It owns the on-disk badger
// datastore, the alias table, and the set of live temp pins.
type Store struct {
	log *logrus.Entry

	ds *badger4.Datastore

	cache *lru.Cache[string, []byte]

	mu      sync.Mutex
	aliases map[string]*cid.Cid

	pinsMu   sync.Mutex
	pins     map[uint64]map[string]struct{} // handle id -> set of cid strings
	nextPin  uint64
}

// Open opens or creates a block store rooted at dir, with an in-memory read
// cache holding up to cacheEntries blocks.
func Open(dir string, cacheEntries int) (*Store, error) {
	if cacheEntries <= 0 {
		cacheEntries = 4096
	}
	opts := badger4.DefaultOptions
	ds, err := badger4.NewDatastore(dir, &opts)
	if err != nil {
		return nil, utils.Wrapk(utils.KindIO, "open block store", err)
	}
	cache, _ := lru.New[string, []byte](cacheEntries)
	return &Store{
		log:     logrus.WithField("component", "blockstore"),
		ds:      ds,
		cache:   cache,
		aliases: make(map[string]*cid.Cid),
		pins:    make(map[uint64]map[string]struct{}),
	}, nil
}

// Close releases the underlying datastore.
func (s *Store) Close() error {
	return s.ds.Close()
}

func cidForBytes(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagCBOR, sum), nil
}

// Put inserts a block, returning its CID. Put is idempotent: re-inserting
// identical bytes under the same CID is a no-op success. If the store
// already holds different bytes under the computed CID, a
// "corruption detected" error of kind utils.KindInternal is returned
// (spec.md §4.1, invariant 4 in §3).
func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := cidForBytes(data)
	if err != nil {
		return cid.Undef, utils.Wrapk(utils.KindInternal, "hash block", err)
	}
	key := dsKey(c)

	existing, err := s.ds.Get(ctx, key)
	if err == nil {
		if !bytes.Equal(existing, data) {
			return cid.Undef, utils.New(utils.KindInternal, fmt.Sprintf("corruption detected at %s", c))
		}
		return c, nil
	}

	if err := s.ds.Put(ctx, key, data); err != nil {
		return cid.Undef, utils.Wrapk(utils.KindIO, "put block", err)
	}
	if s.cache != nil {
		s.cache.Add(c.String(), data)
	}
	return c, nil
}

// Get returns the stored bytes for a CID, or a "not found" error of kind
// utils.KindInvalidInput when the block cannot be read.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if s.cache != nil {
		if b, ok := s.cache.Get(c.String()); ok {
			return b, nil
		}
	}
	b, err := s.ds.Get(ctx, dsKey(c))
	if err != nil {
		return nil, utils.Wrapk(utils.KindInvalidInput, fmt.Sprintf("block %s not found", c), err)
	}
	if s.cache != nil {
		s.cache.Add(c.String(), b)
	}
	return b, nil
}

// Has reports whether a block is present without fetching its bytes.
func (s *Store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if s.cache != nil {
		if _, ok := s.cache.Get(c.String()); ok {
			return true, nil
		}
	}
	return s.ds.Has(ctx, dsKey(c))
}

// KnownCIDs returns every block CID currently stored. Intended for
// diagnostics; not suitable for very large stores.
func (s *Store) KnownCIDs(ctx context.Context) ([]cid.Cid, error) {
	results, err := s.ds.Query(ctx, queryAll())
	if err != nil {
		return nil, utils.Wrapk(utils.KindIO, "list blocks", err)
	}
	defer results.Close()

	var out []cid.Cid
	for r := range results.Next() {
		if r.Error != nil {
			return nil, utils.Wrapk(utils.KindIO, "list blocks", r.Error)
		}
		if c, ok := cidFromKeyString(r.Key); ok {
			out = append(out, c)
		}
	}
	return out, nil
}
