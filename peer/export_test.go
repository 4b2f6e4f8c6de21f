// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import "net"

// TstNewLoopbackConnection builds a Connection over an in-memory pipe,
// skipping Dial's network and handshake steps entirely, so Map's
// bookkeeping methods can be exercised without a real peer.
func TstNewLoopbackConnection(nonce uint64, inbound chan<- Inbound) (*Connection, net.Conn) {
	local, remote := net.Pipe()
	c := &Connection{
		Nonce:   nonce,
		Addr:    "127.0.0.1:0",
		conn:    local,
		out:     make(chan Outbound, outboundQueueSize),
		inbound: inbound,
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c, remote
}

// TstCloseDone closes a loopback Connection's done channel, simulating
// its reader goroutine having exited.
func TstCloseDone(c *Connection) {
	close(c.done)
}
