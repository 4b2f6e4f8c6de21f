// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// DecodeWatchTargets turns config-layer strings (each either a base58/
// bech32 address or a hex-encoded output script) into raw scripts ready
// for ScriptSet.AddAll, the "accept addresses at the config layer"
// allowance spec.md §3's expansion describes.
func DecodeWatchTargets(targets []string, params *chaincfg.Params) ([][]byte, error) {
	scripts := make([][]byte, 0, len(targets))
	for _, target := range targets {
		script, err := decodeOne(target, params)
		if err != nil {
			return nil, fmt.Errorf("filter: invalid watch target %q: %w", target, err)
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

func decodeOne(target string, params *chaincfg.Params) ([]byte, error) {
	if raw, err := hex.DecodeString(target); err == nil && len(raw) > 0 {
		return raw, nil
	}
	addr, err := btcutil.DecodeAddress(target, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
