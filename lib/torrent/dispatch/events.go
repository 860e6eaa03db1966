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
package dispatch

import "github.com/uber/torrentd/core"

// ErrorKind classifies a torrent-level error for the upward event stream,
// matching the taxonomy kinds that apply above the block/peer level.
type ErrorKind int

// ErrorKind values.
const (
	ErrorKindStorage ErrorKind = iota
	ErrorKindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindStorage:
		return "storage"
	case ErrorKindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Events is the one-way notification arrow out of a Torrent: its run loop
// calls these synchronously from the same goroutine that owns all of the
// torrent's state, so an Events implementation must not block or call
// back into the Torrent it was handed to (that would deadlock the run
// loop against itself).
type Events interface {
	// PieceVerified reports piece index has been hashed, matched its
	// expected digest, and been durably written to Storage.
	PieceVerified(h core.InfoHash, index int)

	// PieceHashMismatch reports piece index failed verification and was
	// discarded; it remains unverified and will be re-requested.
	PieceHashMismatch(h core.InfoHash, index int)

	// Complete reports every piece is now verified.
	Complete(h core.InfoHash)

	// Error reports a torrent-level error of the given kind.
	Error(h core.InfoHash, kind ErrorKind, err error)

	// PeerAdded reports a connection was promoted to active.
	PeerAdded(h core.InfoHash, peerID core.PeerID)

	// PeerRemoved reports an active connection was closed and removed
	// from the peer set.
	PeerRemoved(h core.InfoHash, peerID core.PeerID, reason error)
}

// NopEvents implements Events with no-ops, for tests and callers that
// don't care about the upward event stream.
type NopEvents struct{}

func (NopEvents) PieceVerified(core.InfoHash, int)                 {}
func (NopEvents) PieceHashMismatch(core.InfoHash, int)              {}
func (NopEvents) Complete(core.InfoHash)                            {}
func (NopEvents) Error(core.InfoHash, ErrorKind, error)             {}
func (NopEvents) PeerAdded(core.InfoHash, core.PeerID)              {}
func (NopEvents) PeerRemoved(core.InfoHash, core.PeerID, error)     {}
