// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import "github.com/btcsuite/btcd/wire"

// broadcastJob is the queued form of a BroadcastJob entity spec.md §3
// names: a transaction paired with the policy it should be relayed
// under.
type broadcastJob struct {
	tx     *wire.MsgTx
	policy BroadcastPolicy
}

// broadcaster is a simple FIFO queue of pending transaction broadcasts.
// Kept as a plain slice rather than a channel since the coordinator
// needs to peek at "is anything pending" without committing to consume
// it until peers are actually available (spec.md §4.5 item 4).
type broadcaster struct {
	queue []broadcastJob
}

func newBroadcaster() *broadcaster {
	return &broadcaster{}
}

func (b *broadcaster) add(tx *wire.MsgTx, policy BroadcastPolicy) {
	b.queue = append(b.queue, broadcastJob{tx: tx, policy: policy})
}

func (b *broadcaster) isEmpty() bool {
	return len(b.queue) == 0
}

func (b *broadcaster) next() (broadcastJob, bool) {
	if len(b.queue) == 0 {
		return broadcastJob{}, false
	}
	job := b.queue[0]
	b.queue = b.queue[1:]
	return job, true
}
