// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr is the reference Peer Store: it persists known peer
// endpoints with service flags, last-seen time, and a ban flag, and
// implements the async contract spec.md §6 lists (add_new_peer,
// next_peer, peer_count, ban, touch, bootstrap).
package addrmgr

import (
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/kyotosync/kyoto/klog"
)

var log = klog.Subsystem("ADDR")

// ErrNoAddresses is returned by NextPeer when the manager has nothing to
// offer.
var ErrNoAddresses = errors.New("addrmgr: no usable addresses")

// Seeder is the DNS bootstrap interface the manager calls into; it's
// satisfied by internal/dnsseed.Resolver, kept as an interface here so
// addrmgr never imports net/DNS plumbing directly.
type Seeder interface {
	Seeds(network string, port uint16) ([]string, error)
}

// Manager is a concurrency-safe, in-memory Peer Store. Every exported
// method is safe to call from multiple goroutines; callers who want
// durability can wrap it with a periodic snapshot to disk, which is a
// persistence-backend concern spec.md §1 keeps external to the core.
type Manager struct {
	mtx   sync.Mutex
	addrs map[string]*KnownAddress
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{addrs: make(map[string]*KnownAddress)}
}

// AddNewPeer inserts or refreshes an address. Re-adding an already-known
// address updates its service flags but leaves attempt/success history
// untouched, satisfying the idempotence property spec.md §8 expects of
// Addr-driven inserts.
func (m *Manager) AddNewPeer(ip net.IP, port uint16, services wire.ServiceFlag) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := addrKey(ip, port)
	if ka, ok := m.addrs[key]; ok {
		ka.services = services
		return nil
	}

	na := &wire.NetAddress{
		Timestamp: time.Now(),
		Services:  services,
		IP:        ipNetAddress(ip),
		Port:      port,
	}
	m.addrs[key] = &KnownAddress{na: na, services: services}
	return nil
}

// NextPeer returns an address to dial, preferring ones with a higher
// chance() and excluding anything currently bad or banned. Selection is
// weighted-random rather than strictly best-first so the node doesn't
// hammer a single flaky address.
func (m *Manager) NextPeer() (net.IP, uint16, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	type candidate struct {
		ka     *KnownAddress
		weight float64
	}
	var candidates []candidate
	var total float64
	for _, ka := range m.addrs {
		if ka.isBad() {
			continue
		}
		w := ka.chance()
		if w <= 0 {
			continue
		}
		candidates = append(candidates, candidate{ka, w})
		total += w
	}
	if len(candidates) == 0 {
		return nil, 0, ErrNoAddresses
	}

	pick := rand.Float64() * total
	for _, c := range candidates {
		pick -= c.weight
		if pick <= 0 {
			c.ka.attempts++
			c.ka.lastattempt = time.Now()
			return c.ka.na.IP, c.ka.na.Port, nil
		}
	}
	last := candidates[len(candidates)-1].ka
	last.attempts++
	last.lastattempt = time.Now()
	return last.na.IP, last.na.Port, nil
}

// PeerCount returns the number of addresses the manager currently knows
// about, banned or not.
func (m *Manager) PeerCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.addrs)
}

// Ban marks ip:port as banned for the given duration. A CheckpointMismatch
// header error bans its source peer per spec.md §7's error taxonomy.
func (m *Manager) Ban(ip net.IP, port uint16, duration time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if ka, ok := m.addrs[addrKey(ip, port)]; ok {
		ka.banned = true
		ka.bannedUntil = time.Now().Add(duration)
		log.Warnf("banned peer %s:%d until %s", ip, port, ka.bannedUntil)
	}
}

// Touch records a successful connection/message exchange with ip:port at
// lastSeen, resetting its failure streak.
func (m *Manager) Touch(ip net.IP, port uint16, lastSeen time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if ka, ok := m.addrs[addrKey(ip, port)]; ok {
		ka.lastsuccess = lastSeen
		ka.attempts = 0
	}
}

// Bootstrap fills the manager from a DNS seeder when it otherwise has no
// usable addresses. It's fatal only at the coordinator level if no other
// peer source exists (spec.md §7, NotEnoughPeersError).
func (m *Manager) Bootstrap(seeder Seeder, network string, port uint16) (int, error) {
	hosts, err := seeder.Seeds(network, port)
	added := 0
	for _, host := range hosts {
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		if addErr := m.AddNewPeer(ip, port, wire.SFNodeNetwork); addErr != nil {
			log.Warnf("bootstrap: failed to add %s: %v", host, addErr)
			continue
		}
		added++
	}
	// A seeder may return both a partial host list and a "too few
	// results" warning (see dnsseed.Resolver.Seeds); only treat the
	// error as fatal if it left us with nothing to show for it.
	if added == 0 && err != nil {
		return 0, err
	}
	return added, nil
}

func addrKey(ip net.IP, port uint16) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}

func ipNetAddress(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
