// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfheader

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
)

func entries(hashes ...byte) []Entry {
	out := make([]Entry, len(hashes))
	for i, b := range hashes {
		out[i] = Entry{FilterHeader: chainhash.Hash{b}, FilterHash: chainhash.Hash{b, b}}
	}
	return out
}

func TestQuorumOfOneAdvancesImmediately(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 190000}, 1)
	result, height := c.Append(1, entries(1, 2, 3))
	require.Equal(t, ReadyForNext, result)
	require.Equal(t, int32(190003), height)
	require.Equal(t, int32(190003), c.Height())
}

func TestQuorumAgreement(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 0}, 2)

	result, _ := c.Append(1, entries(1, 2, 3))
	require.Equal(t, AddedToQueue, result)
	require.Equal(t, int32(0), c.Height())

	result, height := c.Append(2, entries(1, 2, 3))
	require.Equal(t, ReadyForNext, result)
	require.Equal(t, int32(3), height)
}

func TestQuorumDispute(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 0}, 2)

	result, _ := c.Append(1, entries(1, 2, 3))
	require.Equal(t, AddedToQueue, result)

	// Peer 2 disagrees at index 1 (the "X" in spec.md's scenario 4).
	result, height := c.Append(2, entries(1, 0xFE, 3))
	require.Equal(t, Conflict, result)
	require.Equal(t, int32(2), height)

	// Staging survives a Conflict result until arbitration resolves.
	peers := c.StagedPeers()
	require.Len(t, peers, 2)
}

func TestClearStagingAfterEscalation(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 0}, 2)
	c.Append(1, entries(1, 2, 3))
	c.Append(2, entries(1, 0xFE, 3))
	require.Len(t, c.StagedPeers(), 2)

	c.ClearStaging()
	require.Empty(t, c.StagedPeers())
}

func TestFilterHashAtAndJoin(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 100}, 1)
	c.Append(1, entries(1, 2, 3))

	_, ok := c.FilterHashAt(100)
	require.False(t, ok, "anchor height itself is never in the committed range")

	hash, ok := c.FilterHashAt(101)
	require.True(t, ok)
	require.Equal(t, chainhash.Hash{1, 1}, hash)

	blockHashes := []chainhash.Hash{{0x10}, {0x20}, {0x30}}
	c.Join(blockHashes)

	got, ok := c.HashAt(chainhash.Hash{0x20})
	require.True(t, ok)
	require.Equal(t, chainhash.Hash{2, 2}, got)
}

func TestLastStopHashTracking(t *testing.T) {
	c := New(checkpoint.Checkpoint{Height: 0}, 1)
	_, ok := c.LastStopHashRequest()
	require.False(t, ok)

	h := chainhash.Hash{0x42}
	c.SetLastStopHash(h)
	got, ok := c.LastStopHashRequest()
	require.True(t, ok)
	require.Equal(t, h, got)
}
