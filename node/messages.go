// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// NodeMessage is an event the coordinator publishes to every listening
// Client, the event stream spec.md §6 names. Modeled as a closed set of
// structs rather than an interface with marker methods, matching the
// vocabulary already used for peer.Inbound/peer.Outbound.
type NodeMessage interface{}

type (
	// Dialog is a human-readable progress line, the equivalent of the
	// original's send_dialog().
	Dialog struct {
		Text string
	}
	// Warning is a human-readable non-fatal problem report.
	Warning struct {
		Text string
	}
	// BlocksDisconnected reports a reorg's disconnected height range.
	BlocksDisconnected struct {
		From, To int32
	}
	// Transaction reports a transaction found in a scanned block whose
	// output matched the watched script set.
	Transaction struct {
		Tx        *wire.MsgTx
		BlockHash chainhash.Hash
		Height    int32
	}
	// Synced reports that the node has reached TransactionsSynced.
	Synced struct {
		Height int32
		Hash   chainhash.Hash
	}
)

// ClientMessage is a command a Client sends to the coordinator, the
// command stream spec.md §6 names.
type ClientMessage interface{}

type (
	// Shutdown asks the coordinator to stop its run loop.
	Shutdown struct{}
	// Broadcast asks the coordinator to relay a transaction per policy.
	Broadcast struct {
		Tx     *wire.MsgTx
		Policy BroadcastPolicy
	}
	// AddScripts adds scripts to the watched set without triggering a
	// rescan.
	AddScripts struct {
		Scripts [][]byte
	}
	// Rescan clears cached filter progress and redownloads filters from
	// the start of the quorum chain's committed range (anchor height + 1).
	Rescan struct{}
)

// BroadcastPolicy controls how a broadcast job is relayed, per spec.md
// §3's BroadcastJob entity.
type BroadcastPolicy int

const (
	// BroadcastRandomPeer relays to exactly one connected peer.
	BroadcastRandomPeer BroadcastPolicy = iota
	// BroadcastAllPeers relays to every connected peer.
	BroadcastAllPeers
)
