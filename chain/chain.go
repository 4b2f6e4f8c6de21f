// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain implements the validated in-memory block-header
// sequence above an anchor checkpoint: §4.2's Header Chain. It owns
// reorg logic, the locator generator, and checkpoint-anchored
// validation. Difficulty-retarget and cumulative-work arithmetic reuse
// github.com/btcsuite/btcd/blockchain's exported big.Int helpers rather
// than reimplementing them, the way EXCCoin-exccd/blockchain/difficulty.go
// composes the same primitives for Decred's retarget rule.
package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
	"github.com/kyotosync/kyoto/headerfs"
	"github.com/kyotosync/kyoto/klog"
)

var log = klog.Subsystem("CHAN")

// Outcome is the externally visible result of a Sync call. Internally
// Sync moves through {Steady, ForkCandidate, Committing} phases per
// spec.md §4.2's state machine, but only the outcome crosses the
// package boundary.
type Outcome struct {
	// Reorg is true if accepting this batch discarded part of our
	// previous chain.
	Reorg bool
	// DisconnectedFrom/DisconnectedTo describe the inclusive height
	// range removed from the chain when Reorg is true; the coordinator
	// reports this as NodeMessage.BlocksDisconnected.
	DisconnectedFrom, DisconnectedTo int32
	// NewTipHeight is the chain's tip height after the batch applied.
	NewTipHeight int32
}

// Chain is the Header Chain: an anchor checkpoint plus an ordered map of
// height to block header, contiguous and monotonically growing except
// during a reorg.
type Chain struct {
	mtx sync.Mutex

	params *chaincfg.Params
	store  headerfs.Store
	table  *checkpoint.Table

	anchor checkpoint.Checkpoint

	headers   map[int32]*wire.BlockHeader
	hashIndex map[chainhash.Hash]int32
	tipHeight int32

	bestKnownHeight int32
	lastFlushed     int32
}

// New constructs a Chain anchored at anchor, loading any previously
// persisted headers above it from store.
func New(params *chaincfg.Params, table *checkpoint.Table, anchor checkpoint.Checkpoint, store headerfs.Store) (*Chain, error) {
	c := &Chain{
		params:          params,
		store:           store,
		table:           table,
		anchor:          anchor,
		headers:         make(map[int32]*wire.BlockHeader),
		hashIndex:       make(map[chainhash.Hash]int32),
		tipHeight:       anchor.Height,
		bestKnownHeight: anchor.Height,
		lastFlushed:     anchor.Height,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) load() error {
	stored, err := c.store.Load(c.anchor.Height)
	if err != nil {
		return &headerfs.LoadError{Height: c.anchor.Height, Reason: err.Error()}
	}
	if len(stored) == 0 {
		return nil
	}

	maxHeight := c.anchor.Height
	for height := range stored {
		if height > maxHeight {
			maxHeight = height
		}
	}

	prevHash := c.anchor.Hash
	for height := c.anchor.Height + 1; height <= maxHeight; height++ {
		hdr, ok := stored[height]
		if !ok {
			return &headerfs.LoadError{Height: height, Reason: "gap in stored header sequence"}
		}
		if hdr.PrevBlock != prevHash {
			return &headerfs.LoadError{Height: height, Reason: "does not link to previous header"}
		}
		if cp, ok := c.table.At(height); ok && hdr.BlockHash() != cp.Hash {
			return &headerfs.LoadError{Height: height, Reason: "stored header mismatches checkpoint"}
		}
		hash := hdr.BlockHash()
		c.headers[height] = hdr
		c.hashIndex[hash] = height
		prevHash = hash
	}
	c.tipHeight = maxHeight
	c.lastFlushed = maxHeight
	if maxHeight > c.bestKnownHeight {
		c.bestKnownHeight = maxHeight
	}
	return nil
}

// TipHeight returns the current tip's height.
func (c *Chain) TipHeight() int32 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tipHeight
}

// TipHash returns the current tip's block hash.
func (c *Chain) TipHash() chainhash.Hash {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tipHashLocked()
}

func (c *Chain) tipHashLocked() chainhash.Hash {
	if c.tipHeight == c.anchor.Height {
		return c.anchor.Hash
	}
	return c.headers[c.tipHeight].BlockHash()
}

// HeaderAt returns the header stored at height, if any. The anchor
// height itself has no stored header (spec.md §4.1: "the anchor is NEVER
// included in the active chain").
func (c *Chain) HeaderAt(height int32) (*wire.BlockHeader, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	h, ok := c.headers[height]
	return h, ok
}

// Anchor returns the checkpoint this chain is anchored at.
func (c *Chain) Anchor() checkpoint.Checkpoint {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.anchor
}

// Contains reports whether hash belongs to the currently active chain,
// returning its height if so. Used by the coordinator to silently
// discard a delivered block that a reorg has since disconnected, per
// spec.md §4.4's "reorged-out blocks are silently discarded" rule.
func (c *Chain) Contains(hash chainhash.Hash) (int32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if hash == c.anchor.Hash {
		return c.anchor.Height, true
	}
	height, ok := c.hashIndex[hash]
	return height, ok
}

// IsSynced reports whether the tip height has caught up with the best
// height any connected peer has advertised.
func (c *Chain) IsSynced() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.tipHeight >= c.bestKnownHeight
}

// SetBestKnownHeight monotonically raises the caller's belief of the
// network tip; a lower value is ignored.
func (c *Chain) SetBestKnownHeight(height int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height > c.bestKnownHeight {
		c.bestKnownHeight = height
	}
}

// Locators returns a block-locator per the standard Bitcoin convention:
// [tip, tip-1, tip-2, tip-4, tip-8, ...] doubling back to the anchor,
// terminated with the anchor hash.
func (c *Chain) Locators() []chainhash.Hash {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var locs []chainhash.Hash
	step := int32(1)
	height := c.tipHeight
	for height > c.anchor.Height {
		if h, ok := c.headers[height]; ok {
			hash := h.BlockHash()
			locs = append(locs, hash)
		}
		height -= step
		if len(locs) >= 2 {
			step *= 2
		}
	}
	locs = append(locs, c.anchor.Hash)
	return locs
}

// FlushToDisk persists headers strictly above the last-flushed height.
func (c *Chain) FlushToDisk() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.tipHeight <= c.lastFlushed {
		return nil
	}
	toWrite := make(map[int32]*wire.BlockHeader)
	for height := c.lastFlushed + 1; height <= c.tipHeight; height++ {
		toWrite[height] = c.headers[height]
	}
	if err := c.store.Write(toWrite); err != nil {
		return err
	}
	c.lastFlushed = c.tipHeight
	return nil
}

// Sync validates and applies a peer's headers batch. See spec.md §4.2
// for the full contract; errors are always a *SyncError.
func (c *Chain) Sync(headers []*wire.BlockHeader) (Outcome, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if len(headers) == 0 {
		return Outcome{}, &SyncError{Kind: EmptyMessage}
	}

	forkHeight, ok := c.findForkPoint(headers[0].PrevBlock)
	if !ok {
		return Outcome{}, &SyncError{Kind: DoesNotLink}
	}

	if err := c.validateBatch(headers, forkHeight); err != nil {
		return Outcome{}, err
	}

	if forkHeight == c.tipHeight {
		return c.extend(headers, forkHeight)
	}

	return c.resolveFork(headers, forkHeight)
}

// findForkPoint returns the height of the header whose hash equals
// prevHash, i.e. the point the batch chains from. The anchor itself is a
// valid fork point.
func (c *Chain) findForkPoint(prevHash chainhash.Hash) (int32, bool) {
	if prevHash == c.anchor.Hash {
		return c.anchor.Height, true
	}
	height, ok := c.hashIndex[prevHash]
	return height, ok
}

// validateBatch checks PoW, retarget, checkpoint, and internal linking
// for every header in the batch, without mutating chain state.
func (c *Chain) validateBatch(headers []*wire.BlockHeader, forkHeight int32) error {
	prevHash := c.prevHashAt(forkHeight)
	prevHeight := forkHeight

	for i, hdr := range headers {
		if hdr.PrevBlock != prevHash {
			return &SyncError{Kind: DoesNotLink, Height: prevHeight + 1}
		}
		height := prevHeight + 1

		if err := c.validatePoW(hdr, height); err != nil {
			return err
		}

		expectedBits, known := c.expectedBits(height, headers[:i], forkHeight)
		if known && hdr.Bits != expectedBits {
			return &SyncError{Kind: InvalidBits, Height: height,
				Reason: fmt.Sprintf("expected bits 0x%x, got 0x%x", expectedBits, hdr.Bits)}
		}

		if cp, ok := c.table.At(height); ok {
			if hdr.BlockHash() != cp.Hash {
				return &SyncError{Kind: CheckpointMismatch, Height: height}
			}
		}

		prevHash = hdr.BlockHash()
		prevHeight = height
	}
	return nil
}

func (c *Chain) validatePoW(hdr *wire.BlockHeader, height int32) error {
	target := blockchain.CompactToBig(hdr.Bits)
	if target.Sign() <= 0 || target.Cmp(c.params.PowLimit) > 0 {
		return &SyncError{Kind: InvalidBits, Height: height, Reason: "bits exceed pow limit"}
	}
	hash := hdr.BlockHash()
	hashNum := blockchain.HashToBig(&hash)
	if hashNum.Cmp(target) > 0 {
		return &SyncError{Kind: InvalidHash, Height: height, Reason: "hash does not satisfy target"}
	}
	return nil
}

// prevHashAt returns the block hash at height, consulting the stored
// chain (heights <= tip) directly.
func (c *Chain) prevHashAt(height int32) chainhash.Hash {
	if height == c.anchor.Height {
		return c.anchor.Hash
	}
	if h, ok := c.headers[height]; ok {
		return h.BlockHash()
	}
	return chainhash.Hash{}
}

// expectedBits computes the bits a header at height must carry under the
// standard Bitcoin retarget rule, consulting already-validated headers
// earlier in the same batch (batchSoFar) when they aren't yet committed
// to the chain. It returns known=false when the window's boundary header
// isn't available (e.g. it falls below the anchor), in which case bits
// aren't checked against the retarget rule — only against PowLimit, via
// validatePoW.
func (c *Chain) expectedBits(height int32, batchSoFar []*wire.BlockHeader, forkHeight int32) (uint32, bool) {
	interval := c.params.TargetTimespan / c.params.TargetTimePerBlock
	prevBits, ok := c.bitsAt(height-1, batchSoFar, forkHeight)
	if !ok {
		return 0, false
	}
	if height%int32(interval) != 0 {
		return prevBits, true
	}

	firstHeight := height - int32(interval)
	firstTime, ok := c.timeAt(firstHeight, batchSoFar, forkHeight)
	if !ok {
		return 0, false
	}
	lastTime, ok := c.timeAt(height-1, batchSoFar, forkHeight)
	if !ok {
		return 0, false
	}

	actualTimespan := lastTime - firstTime
	minTimespan := int64(c.params.TargetTimespan.Seconds()) / 4
	maxTimespan := int64(c.params.TargetTimespan.Seconds()) * 4
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	}
	if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	oldTarget := blockchain.CompactToBig(prevBits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(int64(c.params.TargetTimespan.Seconds())))
	if newTarget.Cmp(c.params.PowLimit) > 0 {
		newTarget.Set(c.params.PowLimit)
	}
	return blockchain.BigToCompact(newTarget), true
}

func (c *Chain) bitsAt(height int32, batchSoFar []*wire.BlockHeader, forkHeight int32) (uint32, bool) {
	if height > forkHeight {
		idx := height - forkHeight - 1
		if idx >= 0 && int(idx) < len(batchSoFar) {
			return batchSoFar[idx].Bits, true
		}
		return 0, false
	}
	if hdr, ok := c.headers[height]; ok {
		return hdr.Bits, true
	}
	return 0, false
}

func (c *Chain) timeAt(height int32, batchSoFar []*wire.BlockHeader, forkHeight int32) (int64, bool) {
	if height > forkHeight {
		idx := height - forkHeight - 1
		if idx >= 0 && int(idx) < len(batchSoFar) {
			return batchSoFar[idx].Timestamp.Unix(), true
		}
		return 0, false
	}
	if hdr, ok := c.headers[height]; ok {
		return hdr.Timestamp.Unix(), true
	}
	return 0, false
}

// extend appends a validated batch directly to the tip.
func (c *Chain) extend(headers []*wire.BlockHeader, forkHeight int32) (Outcome, error) {
	height := forkHeight
	for _, hdr := range headers {
		height++
		hash := hdr.BlockHash()
		c.headers[height] = hdr
		c.hashIndex[hash] = height
	}
	c.tipHeight = height
	if height > c.bestKnownHeight {
		c.bestKnownHeight = height
	}
	log.Debugf("extended chain to height %d", height)
	return Outcome{NewTipHeight: height}, nil
}

// resolveFork compares the cumulative work of the candidate suffix
// against our current suffix from forkHeight and either reorgs or
// rejects.
func (c *Chain) resolveFork(headers []*wire.BlockHeader, forkHeight int32) (Outcome, error) {
	if forkHeight <= c.anchor.Height {
		return Outcome{}, &SyncError{Kind: PreCheckpointFork, Height: forkHeight}
	}

	ourWork := big.NewInt(0)
	for height := forkHeight + 1; height <= c.tipHeight; height++ {
		ourWork.Add(ourWork, blockchain.CalcWork(c.headers[height].Bits))
	}
	theirWork := big.NewInt(0)
	for _, hdr := range headers {
		theirWork.Add(theirWork, blockchain.CalcWork(hdr.Bits))
	}

	if theirWork.Cmp(ourWork) <= 0 {
		return Outcome{}, &SyncError{Kind: LessWorkFork, Height: forkHeight}
	}

	disconnectedFrom := forkHeight + 1
	disconnectedTo := c.tipHeight
	for height := disconnectedFrom; height <= disconnectedTo; height++ {
		if hdr, ok := c.headers[height]; ok {
			delete(c.hashIndex, hdr.BlockHash())
		}
		delete(c.headers, height)
	}

	height := forkHeight
	for _, hdr := range headers {
		height++
		hash := hdr.BlockHash()
		c.headers[height] = hdr
		c.hashIndex[hash] = height
	}
	c.tipHeight = height
	if height > c.bestKnownHeight {
		c.bestKnownHeight = height
	}
	if disconnectedFrom < c.lastFlushed+1 {
		// Don't let a future flush skip over the region we just
		// rewrote in memory; force it to be re-persisted.
		c.lastFlushed = disconnectedFrom - 1
	}

	log.Infof("reorg: disconnected [%d,%d], new tip %d", disconnectedFrom, disconnectedTo, height)
	if err := c.store.WriteOver(c.headersFrom(disconnectedFrom), disconnectedFrom); err != nil {
		log.Warnf("failed to persist reorg: %v", err)
	} else {
		c.lastFlushed = height
	}

	return Outcome{
		Reorg:            true,
		DisconnectedFrom: disconnectedFrom,
		DisconnectedTo:   disconnectedTo,
		NewTipHeight:     height,
	}, nil
}

func (c *Chain) headersFrom(height int32) map[int32]*wire.BlockHeader {
	out := make(map[int32]*wire.BlockHeader)
	for h := height; h <= c.tipHeight; h++ {
		if hdr, ok := c.headers[h]; ok {
			out[h] = hdr
		}
	}
	return out
}
