// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerfs

import (
	"bytes"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore implements Store over a flat goleveldb instance, keyed by
// big-endian height so iteration comes back in ascending order for free.
// This collapses the flat-file-plus-index split the PKT-cash fork of
// lightninglabs/neutrino uses for its headerfs onto a single ordered KV
// store, since LevelDB already gives contiguous iteration without a
// separate index bucket.
type LevelDBStore struct {
	mtx sync.Mutex
	db  *leveldb.DB
}

// NewLevelDBStore opens (or creates) a header store at dir.
func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) Load(anchorHeight int32) (map[int32]*wire.BlockHeader, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	out := make(map[int32]*wire.BlockHeader)
	start := heightKey(anchorHeight + 1)
	iter := s.db.NewIterator(&util.Range{Start: start}, nil)
	defer iter.Release()

	for iter.Next() {
		height := int32(beUint32(iter.Key()))
		hdr := new(wire.BlockHeader)
		if err := hdr.Deserialize(bytes.NewReader(iter.Value())); err != nil {
			return nil, &LoadError{Height: height, Reason: err.Error()}
		}
		out[height] = hdr
	}
	return out, iter.Error()
}

func (s *LevelDBStore) Write(headers map[int32]*wire.BlockHeader) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeLocked(headers)
}

func (s *LevelDBStore) writeLocked(headers map[int32]*wire.BlockHeader) error {
	batch := new(leveldb.Batch)
	for height, hdr := range headers {
		var buf bytes.Buffer
		if err := hdr.Serialize(&buf); err != nil {
			return err
		}
		batch.Put(heightKey(height), buf.Bytes())
	}
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) WriteOver(headers map[int32]*wire.BlockHeader, fromHeight int32) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	iter := s.db.NewIterator(&util.Range{Start: heightKey(fromHeight)}, nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	return s.writeLocked(headers)
}

func (s *LevelDBStore) HeightOf(hash chainhash.Hash) (int32, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		hdr := new(wire.BlockHeader)
		if err := hdr.Deserialize(bytes.NewReader(iter.Value())); err != nil {
			continue
		}
		if hdr.BlockHash() == hash {
			return int32(beUint32(iter.Key())), true, nil
		}
	}
	return 0, false, iter.Error()
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
