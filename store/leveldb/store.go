// Package leveldb provides a ByteStore on top of goleveldb.
package leveldb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func init() {
	store.Register(store.LevelDBStoreType, func(params map[string]any) (store.ByteStore, error) {
		return NewStore(store.StringParam(params, "path", ""))
	})
}

// Store wraps LevelDB for substate persistence.
// Thread-safe: LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// NewStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewStore(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool, error) {
	ref := core.SubstateRef{Node: node, Partition: partition, Key: key}
	data, err := s.db.Get(store.SubstateDBKey(ref), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", ref, err)
	}
	return data, true, nil
}

func (s *Store) ListSubstates(node core.NodeID, partition core.PartitionNumber) (store.Iterator, error) {
	start, limit := store.PrefixRange(store.PartitionPrefix(node, partition))
	it := s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	return &partitionIterator{it: it}, nil
}

// Commit writes all updates in one batch
func (s *Store) Commit(updates *store.StateUpdates) error {
	version, err := s.Version()
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, u := range updates.Updates() {
		key := store.SubstateDBKey(u.Ref)
		if u.Kind == store.UpdateDelete {
			batch.Delete(key)
			continue
		}
		batch.Put(key, u.Value)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version+1)
	batch.Put([]byte(store.VersionKey), buf[:])

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *Store) Version() (uint64, error) {
	data, err := s.db.Get([]byte(store.VersionKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: bad version record", store.ErrInvalidStoreKey)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type partitionIterator struct {
	it  iterator.Iterator
	key core.SubstateKey
	err error
}

func (p *partitionIterator) Next() bool {
	if p.err != nil || !p.it.Next() {
		return false
	}
	ref, err := store.ParseSubstateDBKey(p.it.Key())
	if err != nil {
		p.err = err
		return false
	}
	p.key = ref.Key
	return true
}

func (p *partitionIterator) Key() core.SubstateKey {
	return p.key
}

func (p *partitionIterator) Value() []byte {
	return append([]byte(nil), p.it.Value()...)
}

func (p *partitionIterator) Error() error {
	if p.err != nil {
		return p.err
	}
	return p.it.Error()
}

func (p *partitionIterator) Close() error {
	p.it.Release()
	return nil
}
