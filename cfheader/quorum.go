// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cfheader implements the Filter-Header Quorum Chain: it
// produces a single authoritative compact-filter-header chain only when
// quorum_required peers independently send identical batches. The
// append/commit-or-conflict shape is ported directly from
// original_source's cfheader_chain.rs (thunderbiscuit/kyoto), translated
// from async Rust into a mutex-guarded Go type per spec.md §5's
// single-coordinator-owns-state model.
package cfheader

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
	"github.com/kyotosync/kyoto/klog"
)

var log = klog.Subsystem("CFHD")

// Entry pairs a filter header with the filter hash it commits to, the
// unit the committed sequence is built from.
type Entry struct {
	FilterHeader chainhash.Hash
	FilterHash   chainhash.Hash
}

// AppendResult is the outcome Chain.Append returns alongside a height.
type AppendResult int

const (
	// AddedToQueue means the batch was staged but quorum hasn't been
	// reached yet; nothing to broadcast.
	AddedToQueue AppendResult = iota
	// ReadyForNext means the reference batch was committed and the
	// caller should broadcast the next GetFilterHeaders round.
	ReadyForNext
	// Conflict means quorum was reached but staged batches disagreed at
	// some index; ConflictHeight names the affected height.
	Conflict
)

// Chain is the Filter-Header Quorum Chain.
type Chain struct {
	mtx sync.Mutex

	anchor         checkpoint.Checkpoint
	quorumRequired int

	committed []Entry
	staging   map[uint64][]Entry

	blockToFilterHash map[chainhash.Hash]chainhash.Hash

	lastStopHash *chainhash.Hash
}

// New returns an empty Chain anchored at anchor, requiring quorumRequired
// peers to agree before committing a batch. A quorum of 1 advances on any
// single batch, per spec.md §8.
func New(anchor checkpoint.Checkpoint, quorumRequired int) *Chain {
	if quorumRequired < 1 {
		quorumRequired = 1
	}
	return &Chain{
		anchor:            anchor,
		quorumRequired:    quorumRequired,
		staging:           make(map[uint64][]Entry),
		blockToFilterHash: make(map[chainhash.Hash]chainhash.Hash),
	}
}

// Height returns the quorum chain's committed height.
func (c *Chain) Height() int32 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.heightLocked()
}

func (c *Chain) heightLocked() int32 {
	return c.anchor.Height + int32(len(c.committed))
}

// PrevHeader returns the last committed filter header, used to seed the
// next GetFilterHeaders request's start point.
func (c *Chain) PrevHeader() (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.committed) == 0 {
		return chainhash.Hash{}, false
	}
	return c.committed[len(c.committed)-1].FilterHeader, true
}

// QuorumRequired returns the configured quorum size.
func (c *Chain) QuorumRequired() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.quorumRequired
}

// Append places batch in staging keyed by peerID, overwriting any prior
// unfinalized batch from that peer, then attempts to commit if quorum
// has been reached.
func (c *Chain) Append(peerID uint64, batch []Entry) (AppendResult, int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.staging[peerID] = batch
	if len(c.staging) < c.quorumRequired {
		return AddedToQueue, 0
	}
	return c.appendOrConflict()
}

// appendOrConflict picks an arbitrary reference peer's batch and compares
// every other staged batch against it index by index, exactly matching
// the reference algorithm in cfheader_chain.rs's append_or_conflict.
func (c *Chain) appendOrConflict() (AppendResult, int32) {
	var reference []Entry
	var referencePeer uint64
	first := true
	for peer, batch := range c.staging {
		if first {
			reference = batch
			referencePeer = peer
			first = false
		}
	}
	_ = referencePeer

	for peer, batch := range c.staging {
		if peer == referencePeer {
			continue
		}
		for idx := 0; idx < len(reference); idx++ {
			if idx >= len(batch) {
				continue
			}
			if reference[idx].FilterHeader != batch[idx].FilterHeader {
				conflictHeight := c.heightLocked() + int32(idx) + 1
				log.Warnf("filter header conflict at height %d between reference and peer %d", conflictHeight, peer)
				return Conflict, conflictHeight
			}
		}
	}

	c.committed = append(c.committed, reference...)
	c.staging = make(map[uint64][]Entry)
	log.Debugf("quorum chain extended to height %d", c.heightLocked())
	return ReadyForNext, c.heightLocked()
}

// ClearStaging drops every staged batch without committing, used by the
// coordinator's escalation path when dispute arbitration can't complete
// (spec.md §7).
func (c *Chain) ClearStaging() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.staging = make(map[uint64][]Entry)
}

// StagedPeers returns the peer IDs with a batch currently staged,
// exposed so the coordinator's arbitration path can compare each one
// against a recomputed filter header.
func (c *Chain) StagedPeers() []uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	peers := make([]uint64, 0, len(c.staging))
	for p := range c.staging {
		peers = append(peers, p)
	}
	return peers
}

// StagedEntryAt returns the filter header peerID staged at the given
// absolute chain height, if any, for arbitration comparisons.
func (c *Chain) StagedEntryAt(peerID uint64, height int32) (Entry, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	batch, ok := c.staging[peerID]
	if !ok {
		return Entry{}, false
	}
	idx := height - c.heightLocked() - 1
	if idx < 0 || int(idx) >= len(batch) {
		return Entry{}, false
	}
	return batch[idx], true
}

// FilterHashAt looks up the committed filter hash at height, shifted by
// anchor.Height+1 per spec.md §4.3.
func (c *Chain) FilterHashAt(height int32) (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	idx := height - (c.anchor.Height + 1)
	if idx < 0 || int(idx) >= len(c.committed) {
		return chainhash.Hash{}, false
	}
	return c.committed[idx].FilterHash, true
}

// Join zips blockHeaders against the committed filter hashes at the
// corresponding heights and updates the block-hash to filter-hash map.
// The caller's slice must align positionally with the committed prefix.
func (c *Chain) Join(blockHashes []chainhash.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for i, hash := range blockHashes {
		if i >= len(c.committed) {
			break
		}
		c.blockToFilterHash[hash] = c.committed[i].FilterHash
	}
}

// HashAt returns the filter hash associated with a joined block hash.
func (c *Chain) HashAt(block chainhash.Hash) (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	h, ok := c.blockToFilterHash[block]
	return h, ok
}

// SetLastStopHash remembers which stop-hash a GetFilterHeaders request
// covered so late or duplicate deliveries are detectable.
func (c *Chain) SetLastStopHash(h chainhash.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lastStopHash = &h
}

// LastStopHashRequest returns the stop-hash of the last outstanding
// request, if any.
func (c *Chain) LastStopHashRequest() (chainhash.Hash, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.lastStopHash == nil {
		return chainhash.Hash{}, false
	}
	return *c.lastStopHash, true
}
