// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package headerfs is the reference Header Store: it persists validated
// block headers keyed by height and satisfies the async contract
// spec.md §6 lists (load, write, write_over, height_of). The persisted
// layout invariant is that the stored sequence can be replayed into an
// equivalent Header Chain — the exact schema is implementation-defined.
package headerfs

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Store is the Header Store contract spec.md §6 names. It's kept small
// and synchronous (wrapped in goroutine-safe implementations) rather
// than literally async, since Go expresses "may block the caller" with
// ordinary blocking calls plus context cancellation instead of a
// distinct async/await contract.
type Store interface {
	// Load returns every stored header with height > anchorHeight, in a
	// map keyed by height.
	Load(anchorHeight int32) (map[int32]*wire.BlockHeader, error)

	// Write upserts every header in headers, keyed by height. Heights
	// already at or above the current max are expected; it's the
	// Header Chain's job to only ever call this with new tip extensions.
	Write(headers map[int32]*wire.BlockHeader) error

	// WriteOver upserts headers starting at fromHeight, discarding any
	// previously stored header at or above fromHeight first. Used during
	// a reorg to replace a disconnected suffix.
	WriteOver(headers map[int32]*wire.BlockHeader, fromHeight int32) error

	// HeightOf returns the height a given block hash was stored at.
	HeightOf(hash chainhash.Hash) (int32, bool, error)
}

// LoadError reports a stored header sequence that can't be trusted:
// LevelDBStore.Load returns it for an entry that fails to deserialize,
// ValidateChain for entries that don't link, and the header chain's own
// load for gaps, broken links, or checkpoint contradictions.
type LoadError struct {
	Height int32
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("headerfs: load failed at height %d: %s", e.Height, e.Reason)
}

// ValidateChain checks that each header's prev hash equals the hash of
// the header before it across a loaded, height-ordered slice, returning a
// *LoadError on the first mismatch. Nothing in this module calls it; the
// header chain's load runs its own link checks.
func ValidateChain(ordered []*wire.BlockHeader, startHeights []int32) error {
	if len(ordered) != len(startHeights) {
		return &LoadError{Reason: "header/height slice length mismatch"}
	}
	for i, h := range ordered {
		if i == 0 {
			continue
		}
		prev := ordered[i-1]
		if h.PrevBlock != prev.BlockHash() {
			return &LoadError{Height: startHeights[i], Reason: "does not link to previous header"}
		}
	}
	return nil
}

func heightKey(height int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(height))
	return buf
}
