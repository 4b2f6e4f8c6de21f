// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// BuildOutputScripts collects every non-OP_RETURN output script across a
// block's transactions, the output half of a BIP-158 regular filter's
// element set. A full reconstruction also includes the pubkey scripts
// of every output the block's inputs spend, which requires the UTXO set
// a light client doesn't keep; the dispute arbitration this feeds only
// catches disagreements reachable from output scripts alone, a known
// narrowing recorded where arbitration is wired in.
func BuildOutputScripts(block *wire.MsgBlock) [][]byte {
	var scripts [][]byte
	for _, tx := range block.Transactions {
		for _, out := range tx.TxOut {
			if txscript.GetScriptClass(out.PkScript) == txscript.NullDataTy {
				continue
			}
			scripts = append(scripts, out.PkScript)
		}
	}
	return scripts
}
