// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitfield provides a fixed-length bit vector for piece
// availability, plus a persistence-aware VerifiedBitfield tracking which
// pieces have been hashed and written through to storage.
package bitfield

import (
	"encoding/hex"
	"sync"

	"github.com/willf/bitset"
)

// BitField is a concurrency-safe, fixed-length bit vector indexed by piece
// index. The zero value is not usable; construct with New or FromBytes.
type BitField struct {
	mu sync.RWMutex
	b  *bitset.BitSet
	n  int
}

// New creates a BitField of length n with every bit clear.
func New(n int) *BitField {
	return &BitField{b: bitset.New(uint(n)), n: n}
}

// FromBytes reconstructs a BitField of length n from its wire
// representation, the BEP 3 BITFIELD payload (high bit of byte 0 is piece
// index 0).
func FromBytes(data []byte, n int) *BitField {
	bf := New(n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		bitIdx := uint(7 - i%8)
		if data[byteIdx]&(1<<bitIdx) != 0 {
			bf.b.Set(uint(i))
		}
	}
	return bf
}

// FromHex reconstructs a BitField of length n from a hex-encoded BITFIELD
// payload.
func FromHex(s string, n int) (*BitField, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return FromBytes(data, n), nil
}

// Len returns the number of pieces this BitField covers.
func (bf *BitField) Len() int {
	return bf.n
}

// Get reports whether piece i is set.
func (bf *BitField) Get(i int) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.b.Test(uint(i))
}

// Set marks piece i present.
func (bf *BitField) Set(i int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.b.Set(uint(i))
}

// Clear marks piece i absent.
func (bf *BitField) Clear(i int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.b.Clear(uint(i))
}

// All reports whether every piece is set.
func (bf *BitField) All() bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.b.All()
}

// Count returns the number of set bits.
func (bf *BitField) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return int(bf.b.Count())
}

// SetIndices returns the indices of every set bit, in ascending order.
func (bf *BitField) SetIndices() []int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	indices := make([]int, 0, bf.b.Count())
	buf := make([]uint, 256)
	j := uint(0)
	for {
		var n int
		j, buf = bf.b.NextSetMany(j, buf)
		n = len(buf)
		if n == 0 {
			break
		}
		for _, v := range buf {
			indices = append(indices, int(v))
		}
		j++
	}
	return indices
}

// Bytes encodes the BitField in BEP 3 BITFIELD payload form: one bit per
// piece, high bit first, zero-padded to a byte boundary.
func (bf *BitField) Bytes() []byte {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	out := make([]byte, (bf.n+7)/8)
	for i := 0; i < bf.n; i++ {
		if bf.b.Test(uint(i)) {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// Hex encodes the BitField's wire form in hexadecimal.
func (bf *BitField) Hex() string {
	return hex.EncodeToString(bf.Bytes())
}

// Copy returns an independent deep copy of bf.
func (bf *BitField) Copy() *BitField {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	return &BitField{b: bf.b.Clone(), n: bf.n}
}

// String renders bf as a string of '1'/'0' characters, one per piece.
func (bf *BitField) String() string {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	buf := make([]byte, bf.n)
	for i := 0; i < bf.n; i++ {
		if bf.b.Test(uint(i)) {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}

// VerifiedBitfield tracks which pieces have been hashed successfully and
// written through to Storage. A set bit is the sole authority for "this
// piece is durable and correct" — unlike BitField, which a PeerConnection
// uses to describe a remote peer's claimed availability.
type VerifiedBitfield struct {
	bf *BitField
}

// NewVerified creates a VerifiedBitfield of length n with every piece
// unverified.
func NewVerified(n int) *VerifiedBitfield {
	return &VerifiedBitfield{bf: New(n)}
}

// Len returns the number of pieces.
func (v *VerifiedBitfield) Len() int {
	return v.bf.Len()
}

// Has reports whether piece i is verified.
func (v *VerifiedBitfield) Has(i int) bool {
	return v.bf.Get(i)
}

// MarkVerified sets piece i verified, called once its hash matches and the
// write to Storage has completed.
func (v *VerifiedBitfield) MarkVerified(i int) {
	v.bf.Set(i)
}

// Reset clears piece i, used when an explicit recheck invalidates a
// previously verified piece.
func (v *VerifiedBitfield) Reset(i int) {
	v.bf.Clear(i)
}

// MarkFailed clears piece i following a failed verification attempt, so it
// becomes eligible for re-download.
func (v *VerifiedBitfield) MarkFailed(i int) {
	v.bf.Clear(i)
}

// Complete reports whether every piece is verified.
func (v *VerifiedBitfield) Complete() bool {
	return v.bf.All()
}

// Count returns the number of verified pieces.
func (v *VerifiedBitfield) Count() int {
	return v.bf.Count()
}

// Copy returns an independent deep copy, handed to a PeerConnection when
// replying to a BITFIELD or building a local BITFIELD to send.
func (v *VerifiedBitfield) Copy() *BitField {
	return v.bf.Copy()
}

// Snapshot returns the indices of every verified piece, in ascending
// order; Restore accepts this form.
func (v *VerifiedBitfield) Snapshot() []int {
	return v.bf.SetIndices()
}

// Restore rebuilds a VerifiedBitfield of length p from a previously
// taken Snapshot; indices outside [0, p) are ignored.
func Restore(completed []int, p int) *VerifiedBitfield {
	v := NewVerified(p)
	for _, i := range completed {
		if i >= 0 && i < p {
			v.bf.Set(i)
		}
	}
	return v
}
