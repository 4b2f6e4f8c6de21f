// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ProtocolVersion is the wire protocol version this client advertises in
// its version message, matching spec.md §6's exact value.
const ProtocolVersion = 70015

// UserAgent is the string this client identifies itself with, giving the
// project its name on the wire.
const UserAgent = "kyoto"

// newVersionMessage builds the version message this node sends on every
// outbound connection: services NONE, nonce as assigned by the PeerMap,
// relay false, matching spec.md §6's exact field values.
func newVersionMessage(nonce uint64, remote net.IP, remotePort uint16, lastBlock int32) *wire.MsgVersion {
	them := wire.NewNetAddressIPPort(remote, remotePort, 0)
	us := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)

	msg := wire.NewMsgVersion(us, them, nonce, lastBlock)
	msg.UserAgent = UserAgent
	msg.ProtocolVersion = ProtocolVersion
	msg.Services = 0
	msg.DisableRelayTx = true
	msg.Timestamp = time.Now()
	return msg
}

func newVerAckMessage() *wire.MsgVerAck {
	return wire.NewMsgVerAck()
}

func newGetAddrMessage() *wire.MsgGetAddr {
	return wire.NewMsgGetAddr()
}

// newGetHeadersMessage builds a getheaders request from a block locator
// and optional stop hash (zero hash requests as many as the peer has).
func newGetHeadersMessage(locators []chainhash.Hash, stopHash chainhash.Hash) *wire.MsgGetHeaders {
	msg := wire.NewMsgGetHeaders()
	msg.ProtocolVersion = ProtocolVersion
	for i := range locators {
		msg.AddBlockLocatorHash(&locators[i])
	}
	msg.HashStop = stopHash
	return msg
}

// newGetCFHeadersMessage builds a getcfheaders request for filterType
// filters from startHeight to stopHash, per BIP-157.
func newGetCFHeadersMessage(filterType wire.FilterType, startHeight uint32, stopHash chainhash.Hash) *wire.MsgGetCFHeaders {
	return &wire.MsgGetCFHeaders{
		FilterType:  filterType,
		StartHeight: startHeight,
		StopHash:    stopHash,
	}
}

// newGetCFiltersMessage builds a getcfilters request for filterType
// filters from startHeight to stopHash, per BIP-157.
func newGetCFiltersMessage(filterType wire.FilterType, startHeight uint32, stopHash chainhash.Hash) *wire.MsgGetCFilters {
	return &wire.MsgGetCFilters{
		FilterType:  filterType,
		StartHeight: startHeight,
		StopHash:    stopHash,
	}
}

// newGetDataMessage requests a single full block by hash.
func newGetDataMessage(blockHash chainhash.Hash) *wire.MsgGetData {
	msg := wire.NewMsgGetData()
	msg.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &blockHash))
	return msg
}

func newPongMessage(nonce uint64) *wire.MsgPong {
	return wire.NewMsgPong(nonce)
}

// newTxMessage wraps a transaction for the tx command.
func newTxMessage(tx *wire.MsgTx) *wire.MsgTx {
	return tx
}
