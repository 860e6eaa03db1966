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

// Package activepiece tracks pieces currently being assembled from
// in-flight block requests and received block data. Unlike
// dispatch/piecerequest.Manager in the wire-protocol scheduler this
// package replaced, ActivePiece operates at block granularity and keeps no
// internal lock: every method is called from the single goroutine that
// owns a Torrent, per the engine's per-torrent concurrency model.
package activepiece

import (
	"errors"
	"fmt"
	"time"

	"github.com/uber/torrentd/core"
)

// ErrIncompletePiece is returned by Assemble when not all blocks have
// arrived yet.
var ErrIncompletePiece = errors.New("piece is not yet complete")

// blockRequest records one outstanding request for a block.
type blockRequest struct {
	peerID   core.PeerID
	issuedAt time.Time
}

// ActivePiece holds the in-progress state of a single piece under
// construction: the blocks received so far, and the requests outstanding
// for blocks not yet received.
type ActivePiece struct {
	index         int
	pieceLength   int64
	blockSize     int
	blocksNeeded  int
	blockData     map[int][]byte
	blockRequests map[int][]blockRequest
	lastActivity  time.Time
}

// New constructs an ActivePiece for piece index, whose length is
// pieceLength bytes split into blocks of at most blockSize bytes.
func New(index int, pieceLength int64, blockSize int) *ActivePiece {
	return &ActivePiece{
		index:         index,
		pieceLength:   pieceLength,
		blockSize:     blockSize,
		blocksNeeded:  core.NumBlocks(pieceLength, blockSize),
		blockData:     make(map[int][]byte),
		blockRequests: make(map[int][]blockRequest),
	}
}

// Index returns the piece index this ActivePiece is assembling.
func (ap *ActivePiece) Index() int {
	return ap.index
}

// BlocksNeeded returns the total number of blocks this piece is split into.
func (ap *ActivePiece) BlocksNeeded() int {
	return ap.blocksNeeded
}

// LastActivity returns the time of the most recent request issuance or
// block arrival (or, before either, the time the Manager created the
// piece; zero for a piece built directly with New).
func (ap *ActivePiece) LastActivity() time.Time {
	return ap.lastActivity
}

// HaveAllBlocks reports whether every block has been received.
func (ap *ActivePiece) HaveAllBlocks() bool {
	return len(ap.blockData) == ap.blocksNeeded
}

// BufferedBytes returns the total size of all blocks received so far.
func (ap *ActivePiece) BufferedBytes() int64 {
	var total int64
	for _, b := range ap.blockData {
		total += int64(len(b))
	}
	return total
}

// AddRequest records that blockIndex has been requested from peerID at
// time now. Idempotent across duplicate peers: endgame mode may request
// the same block from multiple peers, but re-requesting from a peer that
// already has an outstanding request for this block is a no-op.
func (ap *ActivePiece) AddRequest(blockIndex int, peerID core.PeerID, now time.Time) {
	for _, r := range ap.blockRequests[blockIndex] {
		if r.peerID == peerID {
			return
		}
	}
	ap.blockRequests[blockIndex] = append(ap.blockRequests[blockIndex], blockRequest{
		peerID:   peerID,
		issuedAt: now,
	})
	ap.lastActivity = now
}

// AddBlock records bytes as the data for blockIndex, delivered by peerID at
// time now. Returns true iff this is the first arrival for that block; a
// duplicate arrival is ignored and returns false.
func (ap *ActivePiece) AddBlock(blockIndex int, data []byte, peerID core.PeerID, now time.Time) bool {
	if _, ok := ap.blockData[blockIndex]; ok {
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ap.blockData[blockIndex] = buf
	delete(ap.blockRequests, blockIndex)
	ap.lastActivity = now
	return true
}

// ClearRequestsForPeer removes every outstanding request belonging to
// peerID, across all blocks, and returns the number removed. Called when a
// PeerConnection disconnects.
func (ap *ActivePiece) ClearRequestsForPeer(peerID core.PeerID) int {
	cleared := 0
	for blockIndex, reqs := range ap.blockRequests {
		kept := reqs[:0]
		for _, r := range reqs {
			if r.peerID == peerID {
				cleared++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(ap.blockRequests, blockIndex)
		} else {
			ap.blockRequests[blockIndex] = kept
		}
	}
	return cleared
}

// CheckTimeouts removes every outstanding request issued more than timeout
// ago, relative to now, and returns the number removed.
func (ap *ActivePiece) CheckTimeouts(timeout time.Duration, now time.Time) int {
	cleared := 0
	for blockIndex, reqs := range ap.blockRequests {
		kept := reqs[:0]
		for _, r := range reqs {
			if now.Sub(r.issuedAt) >= timeout {
				cleared++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(ap.blockRequests, blockIndex)
		} else {
			ap.blockRequests[blockIndex] = kept
		}
	}
	return cleared
}

// IsBlockRequested reports whether blockIndex has an outstanding request.
// If timeout is non-zero, only requests newer than timeout count;
// otherwise any outstanding request, however old, suffices.
func (ap *ActivePiece) IsBlockRequested(blockIndex int, timeout time.Duration, now time.Time) bool {
	reqs, ok := ap.blockRequests[blockIndex]
	if !ok || len(reqs) == 0 {
		return false
	}
	if timeout == 0 {
		return true
	}
	for _, r := range reqs {
		if now.Sub(r.issuedAt) < timeout {
			return true
		}
	}
	return false
}

// NeededBlocks returns up to max block addresses, in ascending block-index
// order, that are neither present in blockData nor currently requested. If
// endgameFanout is greater than zero and fewer than max fresh blocks were
// found, it additionally yields already-requested blocks whose request
// list does not yet include excludePeer, up to endgameFanout distinct
// peers per block, to fill out the remaining budget.
func (ap *ActivePiece) NeededBlocks(max int, endgameFanout int, excludePeer core.PeerID) []core.BlockAddress {
	if max <= 0 {
		return nil
	}
	var out []core.BlockAddress

	addrs := core.BlockAddressesForPiece(ap.index, ap.pieceLength, ap.blockSize)

	for _, addr := range addrs {
		if len(out) >= max {
			return out
		}
		if _, have := ap.blockData[addr.BlockIndex]; have {
			continue
		}
		if _, requested := ap.blockRequests[addr.BlockIndex]; requested {
			continue
		}
		out = append(out, addr)
	}

	if len(out) >= max || endgameFanout <= 0 {
		return out
	}

	for _, addr := range addrs {
		if len(out) >= max {
			return out
		}
		if _, have := ap.blockData[addr.BlockIndex]; have {
			continue
		}
		reqs := ap.blockRequests[addr.BlockIndex]
		if len(reqs) == 0 || len(reqs) >= endgameFanout {
			continue
		}
		alreadyAsked := false
		for _, r := range reqs {
			if r.peerID == excludePeer {
				alreadyAsked = true
				break
			}
		}
		if alreadyAsked {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// Assemble concatenates every block in ascending order into a single
// buffer of length pieceLength. Returns ErrIncompletePiece if any block is
// still missing.
func (ap *ActivePiece) Assemble() ([]byte, error) {
	if !ap.HaveAllBlocks() {
		return nil, fmt.Errorf("assemble piece %d: %w", ap.index, ErrIncompletePiece)
	}
	buf := make([]byte, 0, ap.pieceLength)
	for i := 0; i < ap.blocksNeeded; i++ {
		buf = append(buf, ap.blockData[i]...)
	}
	return buf, nil
}
