// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// DecodeRawFilter splits a cfilter message's Data field into the element
// count N and the raw Golomb-Rice coded bytes FromNBytes expects: BIP-158
// serializes a filter as a CompactSize-encoded N followed by the coded
// bitstream, packed together in the single Data field the wire message
// carries.
func DecodeRawFilter(data []byte) (n uint32, body []byte, err error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, nil, err
	}
	body = make([]byte, r.Len())
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return uint32(count), body, nil
}
