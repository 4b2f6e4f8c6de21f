// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"math/rand"
	"net"
	"strconv"
	"sync"
)

// peerEntry pairs a live Connection with the metadata the coordinator
// learns from its version message. Kept apart from Connection itself so
// updates (a later re-announced height, say) don't need to reach into
// the connection's own goroutines.
type peerEntry struct {
	conn     *Connection
	services uint64
	height   int32
	offset   int64
}

// Map owns every live Connection the node currently holds, dispatching
// outbound commands and tracking per-peer metadata the coordinator
// needs (best height, service flags, clock offset). This is the Peer
// Map spec.md §4.6 names; its method set is unchanged from the
// original: dispatch, clean, live, best_height, send_message,
// send_random, broadcast, set_offset/set_services/set_height,
// add_one_height.
type Map struct {
	mtx   sync.Mutex
	peers map[uint64]*peerEntry
	cfg   Config

	inbound chan Inbound
}

// NewMap returns an empty Map. inboundBufSize sizes the shared inbound
// channel every Connection's reader goroutine feeds; spec.md §5 fixes
// this at 32 with no-drop semantics, so the coordinator must drain it
// promptly.
func NewMap(cfg Config, inboundBufSize int) *Map {
	return &Map{
		peers:   make(map[uint64]*peerEntry),
		cfg:     cfg,
		inbound: make(chan Inbound, inboundBufSize),
	}
}

// Inbound returns the channel every connection's messages arrive on.
func (m *Map) Inbound() <-chan Inbound { return m.inbound }

// Dispatch dials a new connection to ip:port and adds it to the map on
// success. Dial failures are logged and otherwise swallowed; the
// coordinator will simply try again next tick.
func (m *Map) Dispatch(ip net.IP, port uint16) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	nonce := NextNonce()
	conn, err := Dial(nonce, addr, m.cfg, m.inbound)
	if err != nil {
		log.Warnf("dispatch %s: %v", addr, err)
		return
	}
	m.mtx.Lock()
	m.peers[nonce] = &peerEntry{conn: conn, height: conn.Height(), services: uint64(conn.Services())}
	m.mtx.Unlock()
	log.Infof("connected to peer %d (%s)", nonce, addr)
}

// Clean drops any connection whose reader loop has exited.
func (m *Map) Clean() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for nonce, entry := range m.peers {
		select {
		case <-entry.conn.Done():
			delete(m.peers, nonce)
			log.Debugf("reaped dead peer %d", nonce)
		default:
		}
	}
}

// Live returns the count of currently tracked connections.
func (m *Map) Live() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.peers)
}

// BestHeight returns the highest height any connected peer has
// advertised, or 0 if there are none.
func (m *Map) BestHeight() int32 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	var best int32
	for _, entry := range m.peers {
		if entry.height > best {
			best = entry.height
		}
	}
	return best
}

// SetOffset records the clock offset a peer's version message reported.
func (m *Map) SetOffset(nonce uint64, offset int64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if entry, ok := m.peers[nonce]; ok {
		entry.offset = offset
	}
}

// SetServices records the service flags a peer's version message
// reported.
func (m *Map) SetServices(nonce uint64, services uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if entry, ok := m.peers[nonce]; ok {
		entry.services = services
	}
}

// SetHeight records the height a peer's version message reported.
func (m *Map) SetHeight(nonce uint64, height int32) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if entry, ok := m.peers[nonce]; ok {
		entry.height = height
	}
}

// AddOneHeight increments a peer's believed height by one, used when an
// inv announces a single new block without a full headers round trip.
func (m *Map) AddOneHeight(nonce uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if entry, ok := m.peers[nonce]; ok {
		entry.height++
	}
}

// Services returns the service flags recorded for a peer.
func (m *Map) Services(nonce uint64) (uint64, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	entry, ok := m.peers[nonce]
	if !ok {
		return 0, false
	}
	return entry.services, true
}

// SendMessage dispatches cmd to exactly one peer by nonce.
func (m *Map) SendMessage(nonce uint64, cmd Outbound) {
	m.mtx.Lock()
	entry, ok := m.peers[nonce]
	m.mtx.Unlock()
	if ok {
		entry.conn.Send(cmd)
	}
}

// SendRandom dispatches cmd to one uniformly-chosen connected peer.
func (m *Map) SendRandom(cmd Outbound) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if len(m.peers) == 0 {
		return
	}
	idx := rand.Intn(len(m.peers))
	i := 0
	for _, entry := range m.peers {
		if i == idx {
			entry.conn.Send(cmd)
			return
		}
		i++
	}
}

// Broadcast dispatches cmd to every connected peer.
func (m *Map) Broadcast(cmd Outbound) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, entry := range m.peers {
		entry.conn.Send(cmd)
	}
}

// Addrs returns the host:port of every currently connected peer, used by
// the coordinator to avoid re-dialing a whitelisted address it's already
// connected to.
func (m *Map) Addrs() []string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([]string, 0, len(m.peers))
	for _, entry := range m.peers {
		out = append(out, entry.conn.Addr)
	}
	return out
}

// RemoteAddr returns the host:port a connected peer was dialed at, used
// by the coordinator's dispute-arbitration path to translate a nonce
// into the addrmgr.Manager.Ban call's ip:port form.
func (m *Map) RemoteAddr(nonce uint64) (string, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	entry, ok := m.peers[nonce]
	if !ok {
		return "", false
	}
	return entry.conn.Addr, true
}

// Disconnect closes and drops a single connection by nonce.
func (m *Map) Disconnect(nonce uint64) {
	m.mtx.Lock()
	entry, ok := m.peers[nonce]
	delete(m.peers, nonce)
	m.mtx.Unlock()
	if ok {
		entry.conn.Close()
	}
}

