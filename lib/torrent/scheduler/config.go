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

// Package scheduler implements the pure block-request policy run against
// each peer: which REQUESTs to issue next, given that peer's bitfield,
// choke state and pipeline occupancy. It holds no state of its own besides
// configuration; all mutable bookkeeping lives in activepiece.Manager and
// the PeerConnection it is invoked against.
package scheduler

// Policy selects the order in which missing pieces are considered for
// request.
type Policy int

const (
	// PolicyStrictAscending considers missing pieces in ascending index
	// order, with no regard for rarity. This is the spec's mandated
	// default: simple, deterministic, and sufficient absent a swarm large
	// enough for rarest-first to matter.
	PolicyStrictAscending Policy = iota

	// PolicyRarestFirst considers missing pieces in ascending order of how
	// many known peers have them, ascending index as a tiebreak. Requires
	// the caller to pass per-piece peer counts as Schedule's peerCounts
	// argument.
	PolicyRarestFirst
)

// Config controls RequestScheduler's behavior.
type Config struct {
	// PipelineDepth is the maximum number of outstanding REQUESTs allowed
	// per peer. Mirrors conn.Config.PipelineDepth; the two are normally
	// kept equal so PeerConnection's own bookkeeping and the scheduler's
	// budget calculation never disagree.
	PipelineDepth int `yaml:"pipeline_depth"`

	// EndgameFanout is the maximum number of distinct peers that may
	// concurrently hold a reservation for the same block once ordinary
	// reservation has stalled. Zero selects the default of 3; a negative
	// value disables endgame re-issuance.
	EndgameFanout int `yaml:"endgame_fanout"`

	// Policy selects piece consideration order.
	Policy Policy `yaml:"policy"`
}

func (c Config) applyDefaults() Config {
	if c.PipelineDepth == 0 {
		c.PipelineDepth = 200
	}
	if c.EndgameFanout == 0 {
		c.EndgameFanout = 3
	}
	return c
}
