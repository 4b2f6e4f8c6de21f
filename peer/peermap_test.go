// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T, n int) (*Map, []net.Conn) {
	t.Helper()
	m := NewMap(Config{}, 32)
	var closers []net.Conn
	for i := 0; i < n; i++ {
		nonce := uint64(i + 1)
		conn, remote := TstNewLoopbackConnection(nonce, m.inbound)
		m.peers[nonce] = &peerEntry{conn: conn, height: int32(100 + i)}
		closers = append(closers, remote)
	}
	return m, closers
}

func TestMapLiveAndBestHeight(t *testing.T) {
	m, _ := newTestMap(t, 3)
	require.Equal(t, 3, m.Live())
	require.Equal(t, int32(102), m.BestHeight())
}

func TestMapSetters(t *testing.T) {
	m, _ := newTestMap(t, 1)
	m.SetHeight(1, 500)
	m.SetServices(1, 7)
	m.SetOffset(1, -3)
	m.AddOneHeight(1)

	require.Equal(t, int32(501), m.BestHeight())
	services, ok := m.Services(1)
	require.True(t, ok)
	require.Equal(t, uint64(7), services)
}

func TestMapCleanRemovesDeadPeers(t *testing.T) {
	m, _ := newTestMap(t, 2)
	TstCloseDone(m.peers[1].conn)
	m.Clean()
	require.Equal(t, 1, m.Live())
	_, ok := m.peers[1]
	require.False(t, ok)
	_, ok = m.peers[2]
	require.True(t, ok)
}

func TestMapDisconnectRemovesPeer(t *testing.T) {
	m, _ := newTestMap(t, 1)
	m.Disconnect(1)
	require.Equal(t, 0, m.Live())
}
