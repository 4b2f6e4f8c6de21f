// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Inbound is one message received from a connected peer, tagged with the
// nonce identifying which connection it came from. Each Connection's
// reader goroutine pushes these onto the Map's single buffered inbound
// channel, so per-peer ordering is preserved but there's no ordering
// guarantee across peers, per spec.md §5.
type Inbound struct {
	Nonce   uint64
	Message interface{}
}

// The concrete inbound message types a Connection's reader goroutine can
// emit. Modeled as a closed set of structs dispatched via type switch
// rather than an interface with marker methods, since nothing but the
// coordinator ever needs to distinguish them.
type (
	// VersionReceived reports a remote's version announcement.
	VersionReceived struct {
		Services  wire.ServiceFlag
		Timestamp int64
		Height    int32
	}
	// AddrReceived reports a batch of addresses learned from addr/addrv2.
	AddrReceived struct {
		Addrs []*wire.NetAddress
	}
	// HeadersReceived reports a headers message.
	HeadersReceived struct {
		Headers []*wire.BlockHeader
	}
	// CFHeadersReceived reports a cfheaders message.
	CFHeadersReceived struct {
		Msg *wire.MsgCFHeaders
	}
	// CFilterReceived reports a cfilter message.
	CFilterReceived struct {
		Msg *wire.MsgCFilter
	}
	// BlockReceived reports a full block.
	BlockReceived struct {
		Block *wire.MsgBlock
	}
	// InvReceived reports new block hashes announced via inv.
	InvReceived struct {
		BlockHashes []chainhash.Hash
	}
	// Disconnected reports that the connection has terminated, whether
	// cleanly or due to an I/O error.
	Disconnected struct {
		Reason string
	}
)

// Outbound is a command the coordinator sends to one or more peer
// connections; the writer goroutine type-switches it into a wire
// message.
type Outbound interface{}

type (
	// GetHeaders requests headers starting at Locators, stopping at
	// StopHash (the zero hash means "as many as you have").
	GetHeaders struct {
		Locators []chainhash.Hash
		StopHash chainhash.Hash
	}
	// GetFilterHeaders requests a batch of compact filter headers.
	GetFilterHeaders struct {
		StartHeight uint32
		StopHash    chainhash.Hash
	}
	// GetFilters requests a batch of compact filters.
	GetFilters struct {
		StartHeight uint32
		StopHash    chainhash.Hash
	}
	// GetBlock requests one full block by hash.
	GetBlock struct {
		BlockHash chainhash.Hash
	}
	// BroadcastTx sends a transaction for relay.
	BroadcastTx struct {
		Tx *wire.MsgTx
	}
	// Disconnect tells the connection to close itself.
	Disconnect struct{}
)
