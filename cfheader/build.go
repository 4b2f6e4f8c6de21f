// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfheader

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/kyotosync/kyoto/gcs"
)

// BuildEntries re-chains a cfheaders message's flat FilterHashes against
// its PrevFilterHeader into the sequence of Entry values Append expects,
// mirroring the filter header commitment rule BIP-157 defines:
// header[i] = SHA256d(filterHash[i] || header[i-1]).
func BuildEntries(prevHeader chainhash.Hash, filterHashes []chainhash.Hash) []Entry {
	entries := make([]Entry, len(filterHashes))
	prev := prevHeader
	for i, fh := range filterHashes {
		header := gcs.HeaderForFilter(fh, prev)
		entries[i] = Entry{FilterHeader: header, FilterHash: fh}
		prev = header
	}
	return entries
}
