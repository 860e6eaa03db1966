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
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Digest is a 20-byte SHA1 content digest, BEP 3's mandated hash for both
// individual torrent pieces and the bencoded info dict which identifies a
// torrent as a whole.
type Digest [20]byte

// NewDigestFromHex parses a Digest from a 40-character hex string.
func NewDigestFromHex(s string) (Digest, error) {
	if len(s) != 40 {
		return Digest{}, fmt.Errorf("invalid digest: expected 40 hex characters, got %d", len(s))
	}
	var d Digest
	n, err := hex.Decode(d[:], []byte(s))
	if err != nil {
		return Digest{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return Digest{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return d, nil
}

// NewDigestFromBytes copies the leading 20 bytes of b into a Digest.
func NewDigestFromBytes(b []byte) Digest {
	var d Digest
	copy(d[:], b)
	return d
}

// Bytes returns the raw 20 bytes of d.
func (d Digest) Bytes() []byte {
	return d[:]
}

// Hex encodes d in hexadecimal notation.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// Empty reports whether d is the zero digest.
func (d Digest) Empty() bool {
	return d == Digest{}
}

// Digester incrementally computes a SHA1 Digest over streamed writes. It
// satisfies io.Writer so it can be chained into an io.TeeReader while a
// piece is copied to disk, computing the digest and the write in one pass.
type Digester struct {
	h hash.Hash
}

// NewDigester creates a new Digester.
func NewDigester() *Digester {
	return &Digester{h: sha1.New()}
}

// Write implements io.Writer.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Digest returns the Digest of all bytes written so far.
func (d *Digester) Digest() Digest {
	return NewDigestFromBytes(d.h.Sum(nil))
}

// FromBytes computes the Digest of b in one shot.
func (d *Digester) FromBytes(b []byte) (Digest, error) {
	d.h.Reset()
	if _, err := d.h.Write(b); err != nil {
		return Digest{}, err
	}
	return d.Digest(), nil
}

// FromReader consumes r to completion, tee'ing through w if non-nil, and
// returns the resulting Digest. Used by Storage to hash a piece's bytes
// while copying them into place on disk.
func (d *Digester) FromReader(r io.Reader, w io.Writer) (Digest, error) {
	d.h.Reset()
	tr := io.TeeReader(r, d.h)
	var err error
	if w != nil {
		_, err = io.Copy(w, tr)
	} else {
		_, err = io.Copy(io.Discard, tr)
	}
	if err != nil {
		return Digest{}, err
	}
	return d.Digest(), nil
}
