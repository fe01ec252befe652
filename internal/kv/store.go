// Package kv wraps a single goleveldb database into the column-family
// shaped key-value store the node persists through. goleveldb has no native
// column-family concept, so each logical CF is simulated with a fixed
// one-byte key prefix. All CFs share the one database and the single
// opt.Options set given at Open (a bloom filter); no per-CF tuning is
// applied.
package kv

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// CF identifies one logical column family via its one-byte key prefix.
type CF byte

const (
	CFTrieNodes  CF = 't'
	CFState      CF = 's'
	CFBlocks     CF = 'b'
	CFBlockIndex CF = 'i'
	CFReceipts   CF = 'r'
	CFMetadata   CF = 'm'
	CFTxIndex    CF = 'x'
	CFLogs       CF = 'l'
)

// pointLookupCFs lists the CFs read mainly by point lookup. Open does
// not consult it; every CF gets the same options.
var pointLookupCFs = map[CF]bool{
	CFTrieNodes: true, CFState: true, CFBlocks: true, CFReceipts: true, CFTxIndex: true,
}

// Store is the node's single persistent key-value database.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) a leveldb database at path.
func Open(path string) (*Store, error) {
	o := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "kv.Open", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func prefixedKey(cf CF, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(cf)
	copy(out[1:], key)
	return out
}

// Get reads a single value. It returns (nil, nil, false) when absent
// rather than an error, so callers distinguish "not found" from failure.
func (s *Store) Get(cf CF, key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(prefixedKey(cf, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrInternal, "kv.Get", err)
	}
	return v, true, nil
}

// Put writes a single key-value pair immediately (not batched).
func (s *Store) Put(cf CF, key, value []byte) error {
	if err := s.db.Put(prefixedKey(cf, key), value, nil); err != nil {
		return errs.Wrap(errs.ErrInternal, "kv.Put", err)
	}
	return nil
}

// Delete removes a single key.
func (s *Store) Delete(cf CF, key []byte) error {
	if err := s.db.Delete(prefixedKey(cf, key), nil); err != nil {
		return errs.Wrap(errs.ErrInternal, "kv.Delete", err)
	}
	return nil
}

// IteratePrefix calls fn for every key in cf whose suffix starts with
// prefix, in key order, until fn returns false or iteration ends.
func (s *Store) IteratePrefix(cf CF, prefix []byte, fn func(key, value []byte) bool) error {
	rng := util.BytesPrefix(prefixedKey(cf, prefix))
	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		k := it.Key()
		if len(k) < 1 || CF(k[0]) != cf {
			break
		}
		if !fn(append([]byte{}, k[1:]...), append([]byte{}, it.Value()...)) {
			break
		}
	}
	return it.Error()
}
