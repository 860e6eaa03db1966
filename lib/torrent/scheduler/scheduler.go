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
package scheduler

import (
	"sort"
	"time"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/activepiece"
	"github.com/uber/torrentd/lib/torrent/bitfield"
	"github.com/uber/torrentd/utils/syncutil"
)

// Peer is the narrow slice of conn.PeerConnection the scheduler consults.
// Defined here rather than imported so this package stays a pure function
// of its inputs, with no dependency on the wire-protocol layer.
type Peer interface {
	PeerID() core.PeerID
	PeerChoking() bool
	RequestsPending() int
	PeerBitfield() *bitfield.BitField
}

// Schedule runs one invocation of the request policy for peer, returning
// the ordered REQUESTs the caller should issue. As a side effect, each
// returned block is recorded as reserved on its ActivePiece via
// AddRequest, exactly as spec'd: the scheduler does not return a request
// the caller could fail to act on without first marking it pending.
//
// peerCounts is only consulted when cfg.Policy is PolicyRarestFirst and
// may be nil otherwise.
func Schedule(
	peer Peer,
	manager *activepiece.Manager,
	verified *bitfield.VerifiedBitfield,
	numPieces int,
	peerCounts *syncutil.Counters,
	cfg Config,
	now time.Time,
) []core.BlockAddress {

	cfg = cfg.applyDefaults()

	if peer.PeerChoking() {
		return nil
	}

	pending := peer.RequestsPending()
	if pending >= cfg.PipelineDepth {
		return nil
	}
	budget := cfg.PipelineDepth - pending

	peerBitfield := peer.PeerBitfield()
	if peerBitfield == nil {
		return nil
	}

	order := missingPieceOrder(numPieces, verified, cfg.Policy, peerCounts)

	var out []core.BlockAddress

	for _, i := range order {
		if budget <= 0 {
			break
		}
		if !peerBitfield.Get(i) {
			continue
		}

		ap := manager.Get(i)
		if ap != nil && ap.HaveAllBlocks() {
			// Assembled but not yet hashed/persisted; nothing to request.
			continue
		}
		if ap == nil {
			ap = manager.GetOrCreate(i)
			if ap == nil {
				// Capacity exhausted even after a stale sweep.
				continue
			}
		}

		for _, addr := range ap.NeededBlocks(budget, 0, peer.PeerID()) {
			if budget == 0 {
				break
			}
			out = append(out, addr)
			ap.AddRequest(addr.BlockIndex, peer.PeerID(), now)
			budget--
		}
	}

	if budget > 0 && cfg.EndgameFanout > 0 {
		out = append(out, endgameRequests(peer, manager, cfg, &budget, now)...)
	}

	return out
}

// endgameRequests makes a second pass over already-active pieces the peer
// can supply, re-issuing blocks whose outstanding request count has not
// yet reached EndgameFanout. Only reached once ordinary reservation across
// every missing piece has stalled with budget still unspent.
func endgameRequests(
	peer Peer,
	manager *activepiece.Manager,
	cfg Config,
	budget *int,
	now time.Time,
) []core.BlockAddress {

	peerBitfield := peer.PeerBitfield()
	var out []core.BlockAddress

	for _, i := range manager.ActiveIndices() {
		if *budget <= 0 {
			break
		}
		if !peerBitfield.Get(i) {
			continue
		}
		ap := manager.Get(i)
		if ap == nil || ap.HaveAllBlocks() {
			continue
		}
		for _, addr := range ap.NeededBlocks(*budget, cfg.EndgameFanout, peer.PeerID()) {
			if *budget == 0 {
				break
			}
			out = append(out, addr)
			ap.AddRequest(addr.BlockIndex, peer.PeerID(), now)
			*budget--
		}
	}
	return out
}

// missingPieceOrder returns the indices of every unverified piece, in the
// order they should be considered for request.
func missingPieceOrder(
	numPieces int,
	verified *bitfield.VerifiedBitfield,
	policy Policy,
	peerCounts *syncutil.Counters,
) []int {

	missing := make([]int, 0, numPieces)
	for i := 0; i < numPieces; i++ {
		if !verified.Has(i) {
			missing = append(missing, i)
		}
	}

	if policy != PolicyRarestFirst || peerCounts == nil {
		return missing
	}

	sort.SliceStable(missing, func(a, b int) bool {
		return peerCounts.Get(missing[a]) < peerCounts.Get(missing[b])
	})
	return missing
}
