// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"sync"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // same hash160 construction btcutil uses internally

	"crypto/sha256"
)

// ScriptSet is the set of watched output scripts spec.md §3 names. It's
// mutable only by the coordinator; additions may trigger a rescan.
//
// Scripts are indexed twice: once by their raw bytes (what BIP-158
// matching actually needs) and once by hash160 (sha256 then ripemd160),
// so config-layer address input and direct script input share one
// lookup path without the scanner caring which one the caller used.
type ScriptSet struct {
	mtx      sync.RWMutex
	byScript map[string][]byte
	byHash   map[[20]byte][]byte
}

// NewScriptSet returns an empty ScriptSet.
func NewScriptSet() *ScriptSet {
	return &ScriptSet{
		byScript: make(map[string][]byte),
		byHash:   make(map[[20]byte][]byte),
	}
}

// Add inserts script into the set. Adding an already-watched script is a
// no-op, satisfying the idempotence property spec.md §8 requires.
func (s *ScriptSet) Add(script []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := string(script)
	if _, ok := s.byScript[key]; ok {
		return
	}
	cp := append([]byte(nil), script...)
	s.byScript[key] = cp
	s.byHash[hash160(script)] = cp
}

// AddAll inserts every script in scripts.
func (s *ScriptSet) AddAll(scripts [][]byte) {
	for _, scr := range scripts {
		s.Add(scr)
	}
}

// Len returns the number of distinct watched scripts.
func (s *ScriptSet) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.byScript)
}

// Contains reports whether script is being watched.
func (s *ScriptSet) Contains(script []byte) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	_, ok := s.byScript[string(script)]
	return ok
}

// Scripts returns every watched script as a slice, the shape the GCS
// filter match functions want.
func (s *ScriptSet) Scripts() [][]byte {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([][]byte, 0, len(s.byScript))
	for _, scr := range s.byScript {
		out = append(out, scr)
	}
	return out
}

func hash160(b []byte) [20]byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
