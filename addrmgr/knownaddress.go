// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// KnownAddress tracks a single peer endpoint the manager has learned
// about, along with enough history to decide whether it's worth dialing
// again. The field set mirrors the shape the teacher's own
// export_test.go already exposes for this package (na, attempts,
// lastattempt, lastsuccess, tried, refs), extended with the ban flag
// spec.md's PeerConnection/PeerStore entity requires.
type KnownAddress struct {
	na          *wire.NetAddress
	services    wire.ServiceFlag
	attempts    int
	lastattempt time.Time
	lastsuccess time.Time
	tried       bool
	refs        int
	banned      bool
	bannedUntil time.Time
}

// NetAddress returns the underlying wire address.
func (ka *KnownAddress) NetAddress() *wire.NetAddress {
	return ka.na
}

// Services returns the service flags last advertised for this peer.
func (ka *KnownAddress) Services() wire.ServiceFlag {
	return ka.services
}

// Banned reports whether this address is currently under a ban.
func (ka *KnownAddress) Banned() bool {
	return ka.banned && time.Now().Before(ka.bannedUntil)
}

// isBad returns true if the address shouldn't be used for new
// connections, either because it's banned or because recent connection
// attempts have failed repeatedly without any prior success. Ported from
// the well-known btcd/addrmgr isBad heuristic.
func (ka *KnownAddress) isBad() bool {
	if ka.Banned() {
		return true
	}
	if ka.lastattempt.After(time.Now().Add(-time.Minute)) {
		return false
	}
	if ka.lastattempt.After(ka.lastsuccess) && ka.attempts >= 3 {
		return true
	}
	return false
}

// chance returns the probability, in [0, 1], that this address should be
// selected for a new outbound connection attempt. Addresses with more
// failed attempts and no recent success get a lower chance.
func (ka *KnownAddress) chance() float64 {
	c := 1.0
	lastAttempt := time.Since(ka.lastattempt)
	if lastAttempt < 10*time.Minute {
		c *= 0.01
	}
	for i := 0; i < ka.attempts; i++ {
		c /= 1.5
	}
	return c
}
