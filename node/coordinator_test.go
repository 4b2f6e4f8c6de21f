// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/kyotosync/kyoto/addrmgr"
	"github.com/kyotosync/kyoto/cfheader"
	"github.com/kyotosync/kyoto/chain"
	"github.com/kyotosync/kyoto/chaincfg/checkpoint"
	"github.com/kyotosync/kyoto/filter"
	"github.com/kyotosync/kyoto/gcs"
	"github.com/kyotosync/kyoto/headerfs"
	"github.com/kyotosync/kyoto/peer"
)

var regtestParams = &chaincfg.RegressionNetParams

func mineHeader(t *testing.T, prev chainhash.Hash, prevTime time.Time, bits uint32) *wire.BlockHeader {
	t.Helper()
	hdr := &wire.BlockHeader{Version: 1, PrevBlock: prev, Timestamp: prevTime.Add(10 * time.Minute), Bits: bits}
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

func encodeRawFilter(t *testing.T, f *gcs.Filter) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteVarInt(&buf, 0, uint64(f.N())))
	buf.Write(f.Bytes())
	return buf.Bytes()
}

type fakeSeeder struct {
	hosts []string
	err   error
}

func (s *fakeSeeder) Seeds(network string, port uint16) ([]string, error) {
	return s.hosts, s.err
}

func newTestCoordinator(t *testing.T, quorumRequired int, whitelist []string) (*Coordinator, checkpoint.Checkpoint) {
	t.Helper()
	anchor := checkpoint.Checkpoint{Height: 100, Hash: chainhash.Hash{0xAA}}
	table := checkpoint.NewTable(regtestParams)
	ch, err := chain.New(regtestParams, table, anchor, headerfs.NewMemStore())
	require.NoError(t, err)

	quorum := cfheader.New(anchor, quorumRequired)
	scripts := filter.NewScriptSet()
	peerMgr := addrmgr.New()
	peerMap := peer.NewMap(peer.Config{Params: regtestParams}, 8)

	co, _ := New(ch, quorum, scripts, peerMgr, peerMap, &fakeSeeder{}, regtestParams, "regtest", whitelist, 2)
	return co, anchor
}

func TestAdvanceStateTrivialChainIsImmediatelySynced(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.advanceState()
	require.Equal(t, TransactionsSynced, co.phase)
}

func TestAdvanceStateBehindWhenBestKnownHeightAhead(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	co.chain.SetBestKnownHeight(anchor.Height + 50)
	co.advanceState()
	require.Equal(t, Behind, co.phase)
}

func TestNextRequiredPeers(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.phase = Behind
	require.Equal(t, 1, co.nextRequiredPeers())
	co.phase = FilterHeadersSynced
	require.Equal(t, co.requiredPeers, co.nextRequiredPeers())
}

func TestHandleCommandBroadcastQueuesJob(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	tx := wire.NewMsgTx(wire.TxVersion)
	stop := co.handleCommand(Broadcast{Tx: tx, Policy: BroadcastRandomPeer})
	require.False(t, stop)
	require.False(t, co.broadcaster.isEmpty())
}

func TestHandleCommandAddScripts(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.handleCommand(AddScripts{Scripts: [][]byte{{0x01, 0x02}}})
	require.Equal(t, 1, co.scripts.Len())
}

func TestHandleCommandRescanResetsCursor(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	co.handleCommand(Rescan{})
	require.Equal(t, anchor.Height+1, co.scanner.Cursor())
}

func TestHandleCommandShutdownStops(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	require.True(t, co.handleCommand(Shutdown{}))
}

func TestDispatchBroadcastsWaitsForPeers(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	tx := wire.NewMsgTx(wire.TxVersion)
	co.broadcaster.add(tx, BroadcastRandomPeer)
	co.dispatchBroadcasts()
	require.False(t, co.broadcaster.isEmpty(), "broadcast should wait for a connected peer")
}

func TestHashAtHeight(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	hash, ok := co.hashAtHeight(anchor.Height)
	require.True(t, ok)
	require.Equal(t, anchor.Hash, hash)

	_, ok = co.hashAtHeight(anchor.Height + 1)
	require.False(t, ok)
}

func TestNextPeerAddrPrefersUnconnectedWhitelist(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, []string{"203.0.113.5:8333"})
	ip, port, err := co.nextPeerAddr()
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5", ip.String())
	require.EqualValues(t, 8333, port)
}

func TestNextPeerAddrFallsBackToBootstrap(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.seeder = &fakeSeeder{hosts: []string{"198.51.100.7"}}
	ip, _, err := co.nextPeerAddr()
	require.NoError(t, err)
	require.Equal(t, "198.51.100.7", ip.String())
}

func TestNextPeerAddrErrorsWithNoSources(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.seeder = &fakeSeeder{err: addrmgr.ErrNoAddresses}
	_, _, err := co.nextPeerAddr()
	require.Error(t, err)
}

func TestHandleHeadersEmptyBatchDisconnectsWhenBehind(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	co.chain.SetBestKnownHeight(anchor.Height + 10)
	// No live connection exists to actually disconnect, but handleHeaders
	// must not panic reaching for one that isn't there.
	co.handleHeaders(1, peer.HeadersReceived{})
}

func TestHandleHeadersExtendsChainAndRequestsFilterHeaders(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)

	co.handleHeaders(1, peer.HeadersReceived{Headers: []*wire.BlockHeader{h1}})
	require.Equal(t, anchor.Height+1, co.chain.TipHeight())

	stopHash, ok := co.quorum.LastStopHashRequest()
	require.True(t, ok, "a getcfheaders request should be outstanding")
	require.Equal(t, h1.BlockHash(), stopHash)
}

func TestCFHeadersRoundTripAndFilterMatch(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	co.handleHeaders(1, peer.HeadersReceived{Headers: []*wire.BlockHeader{h1}})
	require.Equal(t, anchor.Height+1, co.chain.TipHeight())

	blockHash := h1.BlockHash()
	watched := []byte{0x76, 0xa9, 0x14}
	other := []byte{0x00, 0x01}
	key := gcs.DeriveKey(&blockHash)
	f, err := gcs.NewFilter(key, [][]byte{watched, other})
	require.NoError(t, err)

	co.scripts.Add(watched)

	msg := &wire.MsgCFHeaders{
		FilterType:       wire.GCSFilterRegular,
		StopHash:         blockHash,
		PrevFilterHeader: chainhash.Hash{},
		FilterHashes:     []chainhash.Hash{f.Hash()},
	}
	co.handleCFHeaders(1, peer.CFHeadersReceived{Msg: msg})
	require.Equal(t, anchor.Height+1, co.quorum.Height())

	cfMsg := &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHash, Data: encodeRawFilter(t, f)}
	co.handleFilter(1, peer.CFilterReceived{Msg: cfMsg})

	require.Equal(t, 1, co.scanner.QueueLen())
	co.popBlockQueue()
	require.Equal(t, 0, co.scanner.QueueLen())
}

// TestBootstrapReachesTransactionsSynced drives a coordinator through a
// full bootstrap from an anchor checkpoint: headers, then filter
// headers, then the one filter covering the new tip, ending with the
// phase machine settling on TransactionsSynced once the match queue
// drains — the signet-bootstrap shape spec.md's end-to-end scenarios
// describe, run here against an in-memory chain instead of a live peer.
func TestBootstrapReachesTransactionsSynced(t *testing.T) {
	co, anchor := newTestCoordinator(t, 1, nil)
	co.advanceState()
	require.Equal(t, TransactionsSynced, co.phase, "a chain with nothing beyond the anchor is trivially synced")

	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	co.handleHeaders(1, peer.HeadersReceived{Headers: []*wire.BlockHeader{h1}})
	co.advanceState()
	require.Equal(t, HeadersSynced, co.phase)

	blockHash := h1.BlockHash()
	watched := []byte{0x76, 0xa9, 0x14}
	key := gcs.DeriveKey(&blockHash)
	f, err := gcs.NewFilter(key, [][]byte{watched})
	require.NoError(t, err)
	co.scripts.Add(watched)

	msg := &wire.MsgCFHeaders{
		FilterType:       wire.GCSFilterRegular,
		StopHash:         blockHash,
		PrevFilterHeader: chainhash.Hash{},
		FilterHashes:     []chainhash.Hash{f.Hash()},
	}
	co.handleCFHeaders(1, peer.CFHeadersReceived{Msg: msg})
	co.advanceState()
	require.Equal(t, FilterHeadersSynced, co.phase, "filter headers are committed but the filter has not arrived")

	cfMsg := &wire.MsgCFilter{FilterType: wire.GCSFilterRegular, BlockHash: blockHash, Data: encodeRawFilter(t, f)}
	co.handleFilter(1, peer.CFilterReceived{Msg: cfMsg})
	co.advanceState()
	require.Equal(t, FiltersSynced, co.phase, "a matched filter still pending block retrieval blocks full sync")

	co.popBlockQueue()
	co.advanceState()
	require.Equal(t, TransactionsSynced, co.phase)
}

func TestHandleCFHeaderConflictOpensDispute(t *testing.T) {
	co, anchor := newTestCoordinator(t, 2, nil)
	h1 := mineHeader(t, anchor.Hash, time.Now().Add(-time.Hour), regtestParams.PowLimitBits)
	h2 := mineHeader(t, h1.BlockHash(), h1.Timestamp, regtestParams.PowLimitBits)
	co.handleHeaders(1, peer.HeadersReceived{Headers: []*wire.BlockHeader{h1, h2}})

	// First round: both peers agree on the single entry covering h1, so it
	// commits immediately and gives the quorum chain a committed
	// predecessor for PrevHeader() to return.
	agreed := &wire.MsgCFHeaders{StopHash: h1.BlockHash(), FilterHashes: []chainhash.Hash{{0x01}}}
	co.handleCFHeaders(1, peer.CFHeadersReceived{Msg: agreed})
	co.handleCFHeaders(2, peer.CFHeadersReceived{Msg: agreed})
	require.Equal(t, anchor.Height+1, co.quorum.Height())

	// Second round: the two peers disagree on the entry covering h2.
	msgA := &wire.MsgCFHeaders{StopHash: h2.BlockHash(), FilterHashes: []chainhash.Hash{{0x02}}}
	msgB := &wire.MsgCFHeaders{StopHash: h2.BlockHash(), FilterHashes: []chainhash.Hash{{0x03}}}

	co.handleCFHeaders(1, peer.CFHeadersReceived{Msg: msgA})
	co.handleCFHeaders(2, peer.CFHeadersReceived{Msg: msgB})

	require.NotNil(t, co.pendingDispute)
	require.Equal(t, anchor.Height+2, co.pendingDispute.height)
	require.Equal(t, h2.BlockHash(), co.pendingDispute.blockHash)
}

func TestHandleInventoryBlocksForcesBehind(t *testing.T) {
	co, _ := newTestCoordinator(t, 1, nil)
	co.phase = TransactionsSynced

	novel := chainhash.Hash{0x01}
	co.handleInventoryBlocks(1, peer.InvReceived{BlockHashes: []chainhash.Hash{novel}})
	require.Equal(t, Behind, co.phase, "a novel inv announcement must force a re-sync of headers")

	// A second announcement of the same hash is not novel, so it must not
	// force the phase back to Behind again.
	co.phase = TransactionsSynced
	co.handleInventoryBlocks(1, peer.InvReceived{BlockHashes: []chainhash.Hash{novel}})
	require.Equal(t, TransactionsSynced, co.phase)
}

func TestCheckDisputeTimeoutEscalates(t *testing.T) {
	co, anchor := newTestCoordinator(t, 2, nil)
	co.pendingDispute = &disputeState{height: anchor.Height + 1, deadline: time.Now().Add(-time.Second)}
	co.checkDisputeTimeout()
	require.Nil(t, co.pendingDispute)
}

func TestContainsAddr(t *testing.T) {
	require.True(t, containsAddr([]string{"a", "b"}, "b"))
	require.False(t, containsAddr([]string{"a", "b"}, "c"))
}

func TestDefaultP2PPort(t *testing.T) {
	require.EqualValues(t, 18444, defaultP2PPort(regtestParams))
}
