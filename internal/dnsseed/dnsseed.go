// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dnsseed implements the DNS-based peer bootstrap spec.md keeps
// external to the core: given a network's compiled-in seed hostnames, it
// resolves them to peer addresses, enforcing the mitigations against
// cache-poisoning spec.md §6 calls for (at least 10 results required
// overall, capped at 256 results per individual seed host).
package dnsseed

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrNotEnoughPeers is fatal at the coordinator level only if no other
// peer source (whitelist, peer store) exists, per spec.md §7.
var ErrNotEnoughPeers = errors.New("dnsseed: fewer than 10 addresses returned")

// MinResults is the minimum number of combined addresses a bootstrap
// must return to be considered trustworthy.
const MinResults = 10

// MaxPerHost caps how many addresses a single seed host may contribute,
// so one compromised or cache-poisoned seed can't dominate the result.
const MaxPerHost = 256

// Seeds maps a network name to its compiled-in list of DNS seed
// hostnames, mirroring the seed lists shipped by every Bitcoin-derived
// full node (see e.g. heminetwork/service/tbc's mainnetSeeds/testnetSeeds
// tables for the same convention).
var Seeds = map[string][]string{
	"mainnet": {
		"seed.bitcoin.sipa.be",
		"dnsseed.bluematt.me",
		"dnsseed.bitcoin.dashjr.org",
		"seed.bitcoinstats.com",
		"seed.bitcoin.jonasschnelli.ch",
		"seed.btc.petertodd.org",
	},
	"testnet3": {
		"testnet-seed.bitcoin.jonasschnelli.ch",
		"seed.tbtc.petertodd.org",
		"seed.testnet.bitcoin.sprovoost.nl",
	},
	"signet": {
		"178.128.221.177",
	},
}

// Resolver bootstraps peer addresses via net.Resolver, satisfying the
// addrmgr.Seeder interface.
type Resolver struct {
	Lookup func(ctx context.Context, host string) ([]net.IP, error)
}

// NewResolver returns a Resolver backed by the system's default
// net.Resolver.
func NewResolver() *Resolver {
	r := &net.Resolver{}
	return &Resolver{Lookup: func(ctx context.Context, host string) ([]net.IP, error) {
		return r.LookupIP(ctx, "ip", host)
	}}
}

// Seeds resolves every compiled-in seed host for network and returns the
// combined, deduplicated, capped address list as dotted strings.
func (r *Resolver) Seeds(network string, _ uint16) ([]string, error) {
	hosts, ok := Seeds[network]
	if !ok {
		return nil, errors.New("dnsseed: unknown network " + network)
	}

	seen := make(map[string]struct{})
	var out []string
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, host := range hosts {
		ips, err := r.Lookup(ctx, host)
		if err != nil {
			continue
		}
		added := 0
		for _, ip := range ips {
			if added >= MaxPerHost {
				break
			}
			s := ip.String()
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
			added++
		}
	}

	if len(out) < MinResults {
		return out, ErrNotEnoughPeers
	}
	return out, nil
}
