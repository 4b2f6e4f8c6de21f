// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package filter implements the Filter Scanner spec.md §4.4 describes:
// it verifies each delivered compact filter against the Filter-Header
// Quorum Chain's committed hash, tests it against the watched script
// set, and queues the block hashes of any match for full-block
// retrieval. The verify-then-match-then-advance shape is grounded on
// original_source's block_scanner.rs (thunderbiscuit/kyoto), translated
// into the coordinator-owns-state model spec.md §5 describes.
package filter

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/kyotosync/kyoto/gcs"
	"github.com/kyotosync/kyoto/klog"
)

var log = klog.Subsystem("FILT")

// HeaderSource is the subset of cfheader.Chain the scanner needs: the
// committed filter hash at a given height. Kept as an interface so the
// scanner doesn't import cfheader directly and so tests can fake it.
type HeaderSource interface {
	FilterHashAt(height int32) (chainhash.Hash, bool)
}

// Match is a transaction found in a scanned block whose output script
// is in the watched set, the Transaction event spec.md §6 names.
type Match struct {
	Tx        *wire.MsgTx
	BlockHash chainhash.Hash
	Height    int32
}

// Scanner is the Filter Scanner: it walks filters height by height from
// startHeight, verifying and matching each one against the watched
// ScriptSet, and accumulates the block hashes of matches in a queue for
// the coordinator to request full blocks for.
type Scanner struct {
	source HeaderSource
	scripts *ScriptSet

	cursor int32
	target int32

	queue []matchedBlock
}

type matchedBlock struct {
	hash   chainhash.Hash
	height int32
}

// NewScanner returns a Scanner that begins verifying filters at
// startHeight (the quorum chain's anchor height plus one, normally).
func NewScanner(source HeaderSource, scripts *ScriptSet, startHeight int32) *Scanner {
	return &Scanner{
		source:  source,
		scripts: scripts,
		cursor:  startHeight,
		target:  startHeight - 1,
	}
}

// SetTarget updates the height the scanner is syncing toward, normally
// called whenever the header chain's tip advances.
func (s *Scanner) SetTarget(height int32) {
	s.target = height
}

// Cursor returns the next height the scanner expects a filter for.
func (s *Scanner) Cursor() int32 { return s.cursor }

// IsSynced reports whether the scanner has processed every filter up to
// its current target, the FiltersSynced phase transition's condition.
func (s *Scanner) IsSynced() bool {
	return s.cursor > s.target
}

// HandleFilter verifies and matches one compact filter delivered for
// blockHash at height. It returns whether the filter matched the
// watched script set; a non-nil error means the filter failed
// verification and the source peer should be disconnected.
func (s *Scanner) HandleFilter(blockHash chainhash.Hash, height int32, n uint32, rawFilter []byte) (bool, error) {
	if height != s.cursor {
		if height < s.cursor {
			return false, &ScanError{Kind: OutOfOrder, Height: height, Detail: "duplicate or stale filter"}
		}
		return false, &ScanError{Kind: OutOfOrder, Height: height, Detail: "filter delivered ahead of cursor"}
	}

	expected, ok := s.source.FilterHashAt(height)
	if !ok {
		return false, &ScanError{Kind: UnknownHeight, Height: height}
	}

	f, err := gcs.FromNBytes(n, rawFilter)
	if err != nil {
		return false, &ScanError{Kind: FilterHashMismatch, Height: height, Detail: err.Error()}
	}
	if got := f.Hash(); got != expected {
		return false, &ScanError{
			Kind:   FilterHashMismatch,
			Height: height,
			Detail: "computed filter hash does not match quorum chain commitment",
		}
	}

	matched := false
	if watched := s.scripts.Scripts(); len(watched) > 0 {
		key := gcs.DeriveKey(&blockHash)
		matched = f.MatchAny(key, watched)
	}

	if matched {
		s.queue = append(s.queue, matchedBlock{hash: blockHash, height: height})
		log.Debugf("filter match at height %d (%s)", height, blockHash)
	}

	s.cursor++
	return matched, nil
}

// NextBlock pops the oldest queued block hash awaiting full retrieval.
func (s *Scanner) NextBlock() (chainhash.Hash, int32, bool) {
	if len(s.queue) == 0 {
		return chainhash.Hash{}, 0, false
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next.hash, next.height, true
}

// QueueLen reports how many matched blocks are awaiting retrieval.
func (s *Scanner) QueueLen() int { return len(s.queue) }

// Requeue pushes a block hash back onto the front of the queue. Nothing
// in this module calls it; block requests carry no timeout.
func (s *Scanner) Requeue(hash chainhash.Hash, height int32) {
	s.queue = append([]matchedBlock{{hash: hash, height: height}}, s.queue...)
}

// ScanBlock inspects a full block's transactions against the watched
// script set and returns every Match found. It does not consult the
// header chain for reorg status; the coordinator is responsible for
// discarding matches whose block has since been reorged out before
// emitting them as Transaction events (spec.md §4.4's "reorged-out
// blocks are silently discarded" rule).
func ScanBlock(block *wire.MsgBlock, height int32, scripts *ScriptSet) []Match {
	blockHash := block.BlockHash()
	var matches []Match
	for _, tx := range block.Transactions {
		for _, out := range tx.TxOut {
			if scripts.Contains(out.PkScript) {
				matches = append(matches, Match{Tx: tx, BlockHash: blockHash, Height: height})
				break
			}
		}
	}
	return matches
}
