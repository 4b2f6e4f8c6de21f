// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2016-2017 The Lightning Network Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package gcs implements the Golomb-Rice coded set used by BIP-158
// compact block filters: building a filter from a set of data elements,
// matching candidate elements against it, and chaining filter headers.
// The encode/decode shape is ported from EXCCoin-exccd/gcs, adapted from
// Decred's power-of-two modulus scheme to BIP-158's multiply-shift
// hash-to-range function and SHA256d filter-header chaining.
package gcs

import (
	"bytes"
	"errors"
	"math"
	"sort"

	"github.com/aead/siphash"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/kkdai/bstream"
)

// BIP-158 fixes the Golomb-Rice parameter P and the false positive rate
// denominator M for the regular filter type used by this client.
const (
	// P is the bit length of the remainder code (1/2**P would be the
	// collision rate if M were a power of two; BIP-158 instead uses the
	// multiply-shift hash-to-range below with M).
	P = 19

	// M is BIP-158's false-positive rate denominator for regular
	// filters: a random 32-byte value has a 1/M chance of matching an
	// N-element filter.
	M = 784931

	// KeySize is the SipHash key size, derived from the first 16 bytes
	// of the filter's associated block hash per BIP-158.
	KeySize = siphash.KeySize
)

var (
	// ErrNoData signifies that an empty slice was passed to NewFilter.
	ErrNoData = errors.New("gcs: no data provided")

	// ErrNTooBig signifies the filter can't handle N items.
	ErrNTooBig = errors.New("gcs: N does not fit in uint32")

	// ErrMisserialized signifies a filter was missing N in its
	// serialized form.
	ErrMisserialized = errors.New("gcs: misserialized filter")
)

// DeriveKey returns the SipHash key BIP-158 derives from a block hash:
// the first 16 bytes of the hash, interpreted as stored (little-endian).
func DeriveKey(blockHash *chainhash.Hash) [KeySize]byte {
	var key [KeySize]byte
	copy(key[:], blockHash[:KeySize])
	return key
}

// Filter is an immutable BIP-158 compact filter built from a set of data
// elements. The serialized form is the Golomb-Rice coded set; N is
// carried alongside it since the wire message separates them (CompactSize
// prefix + raw GCS bytes).
type Filter struct {
	n         uint32
	modulusNM uint64
	data      []byte
}

// NewFilter builds a new BIP-158 filter over data, keyed by key (the
// SipHash key derived from the filter's block hash via DeriveKey).
func NewFilter(key [KeySize]byte, data [][]byte) (*Filter, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}
	if len(data) > math.MaxUint32 {
		return nil, ErrNTooBig
	}

	f := &Filter{
		n:         uint32(len(data)),
		modulusNM: uint64(len(data)) * M,
	}

	values := make(uint64Slice, 0, len(data))
	for _, d := range data {
		values = append(values, hashToRange(d, key, f.modulusNM))
	}
	sort.Sort(values)

	w := bstream.NewBStreamWriter(len(data))
	var lastValue uint64
	for _, v := range values {
		delta := v - lastValue
		lastValue = v
		writeGolombRice(w, delta, P)
	}

	f.data = w.Bytes()
	return f, nil
}

// FromNBytes deserializes a filter from its wire representation: a
// leading compact-size-decoded N followed by the raw GCS bytes (the
// caller is responsible for the CompactSize framing itself; this takes
// N already decoded).
func FromNBytes(n uint32, data []byte) (*Filter, error) {
	return &Filter{
		n:         n,
		modulusNM: uint64(n) * M,
		data:      data,
	}, nil
}

// N returns the number of elements the filter was built from.
func (f *Filter) N() uint32 { return f.n }

// Bytes returns the raw Golomb-Rice coded bytes (without N).
func (f *Filter) Bytes() []byte { return f.data }

// NBytes returns N encoded as a CompactSize (VarInt) prefix followed by
// the raw filter bytes, matching BIP-158's wire serialization of a
// filter and the framing filter.DecodeRawFilter expects on the way back
// in.
func (f *Filter) NBytes() []byte {
	var buf bytes.Buffer
	buf.Grow(wire.VarIntSerializeSize(uint64(f.n)) + len(f.data))
	_ = wire.WriteVarInt(&buf, 0, uint64(f.n))
	buf.Write(f.data)
	return buf.Bytes()
}

// Match reports whether data is likely a member of the filter's set.
func (f *Filter) Match(key [KeySize]byte, data []byte) bool {
	if f.n == 0 {
		return false
	}
	target := hashToRange(data, key, f.modulusNM)
	r := bstream.NewBStreamReader(f.data)

	var value uint64
	for i := uint32(0); i < f.n; i++ {
		delta, err := readGolombRice(r, P)
		if err != nil {
			return false
		}
		value += delta
		if value == target {
			return true
		}
		if value > target {
			return false
		}
	}
	return false
}

// MatchAny reports whether any element of data is likely a member of the
// filter's set, zipping the sorted search values against the filter's
// sorted differential encoding in one linear pass.
func (f *Filter) MatchAny(key [KeySize]byte, data [][]byte) bool {
	if f.n == 0 || len(data) == 0 {
		return false
	}

	targets := make(uint64Slice, 0, len(data))
	for _, d := range data {
		targets = append(targets, hashToRange(d, key, f.modulusNM))
	}
	sort.Sort(targets)

	r := bstream.NewBStreamReader(f.data)
	var value uint64
	ti := 0
	for i := uint32(0); i < f.n && ti < len(targets); i++ {
		delta, err := readGolombRice(r, P)
		if err != nil {
			return false
		}
		value += delta

		for ti < len(targets) && targets[ti] < value {
			ti++
		}
		if ti < len(targets) && targets[ti] == value {
			return true
		}
	}
	return false
}

// HeaderForFilter computes the filter-header commitment
// SHA256d(filter_hash ‖ prev_filter_header), the same chaining rule
// spec.md §3/§GLOSSARY defines for FilterHeader entries.
func HeaderForFilter(filterHash, prevHeader chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 2*chainhash.HashSize)
	copy(buf, filterHash[:])
	copy(buf[chainhash.HashSize:], prevHeader[:])
	return chainhash.DoubleHashH(buf)
}

// Hash returns the double-SHA256 hash of the filter's NBytes encoding,
// the FilterHash entity spec.md's data model refers to.
func (f *Filter) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(f.NBytes())
}

func hashToRange(data []byte, key [KeySize]byte, modulusNM uint64) uint64 {
	hash := siphash.Sum64(data, &key)
	hi, lo := bits64Mul(hash, modulusNM)
	_ = lo
	return hi
}

// bits64Mul returns the high 64 bits of the 128-bit product a*b, which
// is BIP-158's "hash to range" function: floor(hash * N * M / 2**64).
func bits64Mul(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) + w0
	return hi, lo
}

type uint64Slice []uint64

func (s uint64Slice) Len() int           { return len(s) }
func (s uint64Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s uint64Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func writeGolombRice(w *bstream.BStream, value uint64, p uint8) {
	q := value >> p
	for ; q > 0; q-- {
		w.WriteBit(bstream.One)
	}
	w.WriteBit(bstream.Zero)
	w.WriteBits(value, int(p))
}

func readGolombRice(r *bstream.BStream, p uint8) (uint64, error) {
	var q uint64
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == bstream.Zero {
			break
		}
		q++
	}
	rem, err := r.ReadBits(int(p))
	if err != nil {
		return 0, err
	}
	return q<<p + rem, nil
}
