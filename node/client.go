// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import "github.com/btcsuite/btcd/wire"

// clientCommandCapacity matches spec.md §5's "client command mpsc 5"
// channel capacity.
const clientCommandCapacity = 5

// Client is the handle an embedding application uses to talk to a
// running Coordinator: it subscribes to NodeMessage events and submits
// ClientMessage commands, mirroring the embedder-facing half of the
// original Node/Client split.
type Client struct {
	events  <-chan NodeMessage
	command chan<- ClientMessage
}

// Events returns the channel of NodeMessage events this client observes.
func (c *Client) Events() <-chan NodeMessage { return c.events }

// Shutdown asks the coordinator to stop.
func (c *Client) Shutdown() {
	c.command <- Shutdown{}
}

// BroadcastTx submits a transaction for relay under policy.
func (c *Client) BroadcastTx(tx *wire.MsgTx, policy BroadcastPolicy) {
	c.command <- Broadcast{Tx: tx, Policy: policy}
}

// AddScripts adds scripts to the watched set without a rescan.
func (c *Client) AddScripts(scripts [][]byte) {
	c.command <- AddScripts{Scripts: scripts}
}

// Rescan requests the coordinator redownload filters from the start of
// the quorum chain's committed range (anchor height + 1).
func (c *Client) Rescan() {
	c.command <- Rescan{}
}
