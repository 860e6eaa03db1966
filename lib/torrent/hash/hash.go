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

// Package hash provides pluggable piece-hashing, realizing spec.md §9's
// "dynamic dispatch over Hasher/Storage/SessionStore": a Torrent never
// knows whether a piece's SHA1 is computed inline or offloaded to a
// background worker pool.
package hash

import "github.com/uber/torrentd/core"

// Hasher computes a piece's SHA1 digest.
type Hasher interface {
	SHA1(data []byte) (core.Digest, error)
}

// Local computes digests inline on the calling goroutine, the same way
// core.Digester / the teacher's writePiece hashed a blob while copying it
// to disk.
type Local struct {
	digester *core.Digester
}

// NewLocal creates a Local Hasher.
func NewLocal() *Local {
	return &Local{digester: core.NewDigester()}
}

// SHA1 computes the digest of data on the calling goroutine.
func (l *Local) SHA1(data []byte) (core.Digest, error) {
	return l.digester.FromBytes(data)
}
