// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyotosync/kyoto/gcs"
)

type fakeSource struct {
	hashes map[int32]chainhash.Hash
}

func (f *fakeSource) FilterHashAt(height int32) (chainhash.Hash, bool) {
	h, ok := f.hashes[height]
	return h, ok
}

func buildFilter(t *testing.T, blockHash chainhash.Hash, data [][]byte) *gcs.Filter {
	t.Helper()
	f, err := gcs.NewFilter(gcs.DeriveKey(&blockHash), data)
	require.NoError(t, err)
	return f
}

func TestScannerMatchesWatchedScript(t *testing.T) {
	blockHash := chainhash.Hash{0x01}
	watched := []byte{0x76, 0xa9, 0x14, 0xde, 0xad, 0xbe, 0xef}
	noise := [][]byte{{0x01, 0x02}, {0x03, 0x04}, watched}

	f := buildFilter(t, blockHash, noise)

	source := &fakeSource{hashes: map[int32]chainhash.Hash{200: f.Hash()}}
	scripts := NewScriptSet()
	scripts.Add(watched)

	s := NewScanner(source, scripts, 200)
	s.SetTarget(200)

	matched, err := s.HandleFilter(blockHash, 200, f.N(), f.Bytes())
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, int32(201), s.Cursor())
	require.True(t, s.IsSynced())

	hash, height, ok := s.NextBlock()
	require.True(t, ok)
	require.Equal(t, blockHash, hash)
	require.Equal(t, int32(200), height)
	require.False(t, s.QueueLen() > 0)
}

func TestScannerNoMatchWhenScriptUnwatched(t *testing.T) {
	blockHash := chainhash.Hash{0x02}
	noise := [][]byte{{0xAA}, {0xBB}}
	f := buildFilter(t, blockHash, noise)

	source := &fakeSource{hashes: map[int32]chainhash.Hash{10: f.Hash()}}
	scripts := NewScriptSet()
	scripts.Add([]byte{0xCC, 0xCC, 0xCC})

	s := NewScanner(source, scripts, 10)
	matched, err := s.HandleFilter(blockHash, 10, f.N(), f.Bytes())
	require.NoError(t, err)
	require.False(t, matched)
	require.Equal(t, 0, s.QueueLen())
}

func TestScannerRejectsHashMismatch(t *testing.T) {
	blockHash := chainhash.Hash{0x03}
	f := buildFilter(t, blockHash, [][]byte{{0x01}})

	source := &fakeSource{hashes: map[int32]chainhash.Hash{5: {0xFF}}}
	scripts := NewScriptSet()

	s := NewScanner(source, scripts, 5)
	_, err := s.HandleFilter(blockHash, 5, f.N(), f.Bytes())
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, FilterHashMismatch, kind)
}

func TestScannerRejectsUnknownHeight(t *testing.T) {
	source := &fakeSource{hashes: map[int32]chainhash.Hash{}}
	s := NewScanner(source, NewScriptSet(), 1)
	_, err := s.HandleFilter(chainhash.Hash{}, 1, 0, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, UnknownHeight, kind)
}

func TestScannerRejectsOutOfOrder(t *testing.T) {
	source := &fakeSource{hashes: map[int32]chainhash.Hash{10: {0x01}}}
	s := NewScanner(source, NewScriptSet(), 10)
	_, err := s.HandleFilter(chainhash.Hash{}, 9, 0, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, OutOfOrder, kind)
}

func TestScanBlockFindsMatches(t *testing.T) {
	watched := []byte{0x76, 0xa9, 0x14}
	scripts := NewScriptSet()
	scripts.Add(watched)

	tx1 := wire.NewMsgTx(wire.TxVersion)
	tx1.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))
	tx2 := wire.NewMsgTx(wire.TxVersion)
	tx2.AddTxOut(wire.NewTxOut(2000, watched))

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(tx1)
	block.AddTransaction(tx2)

	matches := ScanBlock(block, 42, scripts)
	require.Len(t, matches, 1)
	require.Equal(t, int32(42), matches[0].Height)
	require.Equal(t, tx2, matches[0].Tx)
}

func TestScriptSetAddTwiceKeepsOneEntry(t *testing.T) {
	s := NewScriptSet()
	scr := []byte{0x01, 0x02, 0x03}
	s.Add(scr)
	s.Add(scr)
	require.Equal(t, 1, s.Len())
}
