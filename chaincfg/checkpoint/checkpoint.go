// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package checkpoint wraps the per-network checkpoint table a header
// chain is anchored to. It builds on chaincfg.Params.Checkpoints rather
// than re-deriving a parallel table, since the upstream field already
// matches the checkpoint entity this client needs: an immutable,
// height-ordered (height, block hash) pair fixed at compile time.
package checkpoint

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Checkpoint is a single trusted (height, hash) anchor.
type Checkpoint struct {
	Height int32
	Hash   chainhash.Hash
}

// Table is the compiled-in, network-specific ordered list of checkpoints
// used to prune reorgs and bootstrap the filter-header quorum
// requirement. Entries are kept sorted ascending by height.
type Table struct {
	entries []Checkpoint
}

// NewTable builds a Table from a chaincfg.Params' Checkpoints field,
// sorting defensively since upstream doesn't guarantee order.
func NewTable(params *chaincfg.Params) *Table {
	t := &Table{entries: make([]Checkpoint, 0, len(params.Checkpoints))}
	for _, cp := range params.Checkpoints {
		t.entries = append(t.entries, Checkpoint{
			Height: cp.Height,
			Hash:   *cp.Hash,
		})
	}
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].Height < t.entries[j].Height
	})
	return t
}

// Last returns the highest compiled-in checkpoint. It panics if the
// table is empty, which is the case for a network whose chaincfg
// parameters carry no checkpoints (regtest among them).
func (t *Table) Last() Checkpoint {
	if len(t.entries) == 0 {
		panic("checkpoint: table has no entries")
	}
	return t.entries[len(t.entries)-1]
}

// At returns the checkpoint at the given height, if one is compiled in.
func (t *Table) At(height int32) (Checkpoint, bool) {
	for _, cp := range t.entries {
		if cp.Height == height {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// PruneUpTo drops every entry at or below anchor's height, returning the
// remaining checkpoints still relevant to an active chain anchored
// there.
func (t *Table) PruneUpTo(anchor Checkpoint) []Checkpoint {
	pruned := make([]Checkpoint, 0, len(t.entries))
	for _, cp := range t.entries {
		if cp.Height > anchor.Height {
			pruned = append(pruned, cp)
		}
	}
	return pruned
}

// All returns every compiled-in checkpoint in ascending height order.
func (t *Table) All() []Checkpoint {
	out := make([]Checkpoint, len(t.entries))
	copy(out, t.entries)
	return out
}

// String implements fmt.Stringer for log output.
func (c Checkpoint) String() string {
	return fmt.Sprintf("(height=%d hash=%s)", c.Height, c.Hash)
}
