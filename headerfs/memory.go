// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerfs

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemStore is an in-memory Store, used by tests and as the default for
// embedders that don't need the headers to survive a restart.
type MemStore struct {
	mtx     sync.Mutex
	headers map[int32]*wire.BlockHeader
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{headers: make(map[int32]*wire.BlockHeader)}
}

func (s *MemStore) Load(anchorHeight int32) (map[int32]*wire.BlockHeader, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make(map[int32]*wire.BlockHeader)
	for height, hdr := range s.headers {
		if height > anchorHeight {
			out[height] = hdr
		}
	}
	return out, nil
}

func (s *MemStore) Write(headers map[int32]*wire.BlockHeader) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for height, hdr := range headers {
		s.headers[height] = hdr
	}
	return nil
}

func (s *MemStore) WriteOver(headers map[int32]*wire.BlockHeader, fromHeight int32) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for height := range s.headers {
		if height >= fromHeight {
			delete(s.headers, height)
		}
	}
	for height, hdr := range headers {
		s.headers[height] = hdr
	}
	return nil
}

func (s *MemStore) HeightOf(hash chainhash.Hash) (int32, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for height, hdr := range s.headers {
		if hdr.BlockHash() == hash {
			return height, true, nil
		}
	}
	return 0, false, nil
}
