// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
	"github.com/kyotosync/kyoto/headerfs"
)

// regtestParams has a near-maximal PowLimit, so mineHeader converges in
// a handful of nonces rather than needing a real miner.
var regtestParams = &chaincfg.RegressionNetParams

func mineHeader(t *testing.T, prev chainhash.Hash, prevTime time.Time, bits uint32) *wire.BlockHeader {
	t.Helper()
	hdr := &wire.BlockHeader{
		Version:   1,
		PrevBlock: prev,
		Timestamp: prevTime.Add(10 * time.Minute),
		Bits:      bits,
	}
	target := blockchain.CompactToBig(bits)
	for nonce := uint32(0); nonce < 1_000_000; nonce++ {
		hdr.Nonce = nonce
		hash := hdr.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			return hdr
		}
	}
	t.Fatal("failed to mine header within attempt budget")
	return nil
}

func newTestChain(t *testing.T) (*Chain, checkpoint.Checkpoint) {
	t.Helper()
	anchor := checkpoint.Checkpoint{Height: 100, Hash: chainhash.Hash{0xAA}}
	table := checkpoint.NewTable(regtestParams)
	c, err := New(regtestParams, table, anchor, headerfs.NewMemStore())
	require.NoError(t, err)
	return c, anchor
}

func TestSyncExtendsChain(t *testing.T) {
	c, anchor := newTestChain(t)

	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-50*time.Minute), regtestParams.PowLimitBits)
	h2 := mineHeader(t, h1.BlockHash(), h1.Timestamp, regtestParams.PowLimitBits)

	outcome, err := c.Sync([]*wire.BlockHeader{h1, h2})
	require.NoError(t, err)
	require.False(t, outcome.Reorg)
	require.Equal(t, anchor.Height+2, outcome.NewTipHeight)
	require.Equal(t, anchor.Height+2, c.TipHeight())
}

func TestSyncEmptyBatch(t *testing.T) {
	c, _ := newTestChain(t)
	_, err := c.Sync(nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, EmptyMessage, kind)
}

func TestSyncDoesNotLink(t *testing.T) {
	c, _ := newTestChain(t)
	orphan := mineHeader(t, chainhash.Hash{0xFF}, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	_, err := c.Sync([]*wire.BlockHeader{orphan})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, DoesNotLink, kind)
}

func TestSyncApplyingSameBatchTwiceIsNoop(t *testing.T) {
	c, anchor := newTestChain(t)
	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)

	_, err := c.Sync([]*wire.BlockHeader{h1})
	require.NoError(t, err)
	tipAfterFirst := c.TipHeight()

	// Re-applying the same batch: h1 links from the anchor, which now
	// lies below the tip, so Sync treats it as a fork at the anchor,
	// rejects it, and leaves the chain exactly as the first pass left it.
	outcome, err := c.Sync([]*wire.BlockHeader{h1})
	require.Error(t, err)
	_ = outcome
	require.Equal(t, tipAfterFirst, c.TipHeight())
}

func TestReorgWithGreaterWork(t *testing.T) {
	c, anchor := newTestChain(t)

	// Chain A: anchor -> a1 -> a2 -> a3
	a1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	a2 := mineHeader(t, a1.BlockHash(), a1.Timestamp, regtestParams.PowLimitBits)
	a3 := mineHeader(t, a2.BlockHash(), a2.Timestamp, regtestParams.PowLimitBits)
	_, err := c.Sync([]*wire.BlockHeader{a1, a2, a3})
	require.NoError(t, err)
	require.Equal(t, anchor.Height+3, c.TipHeight())

	// Chain B forks at a1 but has 4 blocks of work vs A's 2 remaining
	// blocks (a2, a3) - more cumulative work, so it should win.
	b2 := mineHeader(t, a1.BlockHash(), a1.Timestamp, regtestParams.PowLimitBits)
	b3 := mineHeader(t, b2.BlockHash(), b2.Timestamp, regtestParams.PowLimitBits)
	b4 := mineHeader(t, b3.BlockHash(), b3.Timestamp, regtestParams.PowLimitBits)
	b5 := mineHeader(t, b4.BlockHash(), b4.Timestamp, regtestParams.PowLimitBits)

	outcome, err := c.Sync([]*wire.BlockHeader{b2, b3, b4, b5})
	require.NoError(t, err)
	require.True(t, outcome.Reorg)
	require.Equal(t, anchor.Height+2, outcome.DisconnectedFrom)
	require.Equal(t, anchor.Height+3, outcome.DisconnectedTo)
	require.Equal(t, anchor.Height+5, c.TipHeight())
	require.Equal(t, b5.BlockHash(), c.TipHash())
}

func TestForkWithLesserWorkRejected(t *testing.T) {
	c, anchor := newTestChain(t)

	a1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	a2 := mineHeader(t, a1.BlockHash(), a1.Timestamp, regtestParams.PowLimitBits)
	a3 := mineHeader(t, a2.BlockHash(), a2.Timestamp, regtestParams.PowLimitBits)
	_, err := c.Sync([]*wire.BlockHeader{a1, a2, a3})
	require.NoError(t, err)

	b2 := mineHeader(t, a1.BlockHash(), a1.Timestamp, regtestParams.PowLimitBits)
	_, err = c.Sync([]*wire.BlockHeader{b2})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, LessWorkFork, kind)
	require.Equal(t, anchor.Height+3, c.TipHeight())
}

func TestForkBelowAnchorRejected(t *testing.T) {
	c, anchor := newTestChain(t)
	a1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	_, err := c.Sync([]*wire.BlockHeader{a1})
	require.NoError(t, err)

	// A header whose prev hash is the anchor itself forks exactly at the
	// anchor height. Sync counts a fork point at or below the anchor as
	// pre-checkpoint, so this is rejected as PreCheckpointFork; a fork
	// point strictly below the anchor can't be linked at all, since no
	// header below the anchor is kept.
	sibling := mineHeader(t, anchor.Hash, time.Now().Add(-2*time.Hour), regtestParams.PowLimitBits)
	_, err = c.Sync([]*wire.BlockHeader{sibling})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, PreCheckpointFork, kind)
}

func TestCheckpointMismatch(t *testing.T) {
	anchor := checkpoint.Checkpoint{Height: 100, Hash: chainhash.Hash{0xAA}}
	paramsCopy := *regtestParams
	wrongHash := chainhash.Hash{0x01, 0x02}
	paramsCopy.Checkpoints = []chaincfg.Checkpoint{
		{Height: 101, Hash: &wrongHash},
	}
	table := checkpoint.NewTable(&paramsCopy)
	c, err := New(regtestParams, table, anchor, headerfs.NewMemStore())
	require.NoError(t, err)

	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	_, err = c.Sync([]*wire.BlockHeader{h1})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, CheckpointMismatch, kind)
}

func TestLocatorsTerminateWithAnchor(t *testing.T) {
	c, anchor := newTestChain(t)
	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	_, err := c.Sync([]*wire.BlockHeader{h1})
	require.NoError(t, err)

	locs := c.Locators()
	require.NotEmpty(t, locs)
	require.Equal(t, anchor.Hash, locs[len(locs)-1])
	require.Equal(t, h1.BlockHash(), locs[0])
}

func TestFlushToDiskPersistsOnlyNewHeaders(t *testing.T) {
	anchor := checkpoint.Checkpoint{Height: 100, Hash: chainhash.Hash{0xAA}}
	table := checkpoint.NewTable(regtestParams)
	store := headerfs.NewMemStore()
	c, err := New(regtestParams, table, anchor, store)
	require.NoError(t, err)

	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	_, err = c.Sync([]*wire.BlockHeader{h1})
	require.NoError(t, err)
	require.NoError(t, c.FlushToDisk())

	reloaded, err := New(regtestParams, table, anchor, store)
	require.NoError(t, err)
	require.Equal(t, c.TipHeight(), reloaded.TipHeight())
	require.Equal(t, c.TipHash(), reloaded.TipHash())
}
