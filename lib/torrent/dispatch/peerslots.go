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

import (
	"errors"
	"time"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/conn"

	"github.com/andres-erbsen/clock"
)

// peerSlots errors.
var (
	ErrTorrentAtCapacity       = errors.New("torrent is at capacity")
	ErrConnAlreadyPending      = errors.New("conn is already pending")
	ErrConnAlreadyActive       = errors.New("conn is already active")
	ErrInvalidActiveTransition = errors.New("conn must be pending to transition to active")
	ErrTooManyMutualConns      = errors.New("conn has too many mutual connections")
	ErrAlreadyBlacklisted      = errors.New("peer is already blacklisted")
)

type peerStatus int

const (
	statusUninit peerStatus = iota
	statusPending
	statusActive
)

type peerEntry struct {
	status peerStatus
	conn   *conn.PeerConnection
}

type blacklistEntry struct {
	expiration time.Time
}

func (e *blacklistEntry) blacklisted(now time.Time) bool {
	return e.remaining(now) > 0
}

func (e *blacklistEntry) remaining(now time.Time) time.Duration {
	return e.expiration.Sub(now)
}

// BlacklistedPeer describes one peer currently excluded from this
// torrent's swarm.
type BlacklistedPeer struct {
	PeerID    core.PeerID
	Remaining time.Duration
}

// peerSlots tracks connection lifecycle (pending/active) and blacklist
// status for a single torrent's peer set, enforcing MaxPeers and
// MaxMutualConnections. It is not safe for concurrent use: Torrent's run
// loop is its only caller, per the single-threaded-per-torrent model.
type peerSlots struct {
	config      Config
	clk         clock.Clock
	localPeerID core.PeerID

	conns     map[core.PeerID]peerEntry
	blacklist map[core.PeerID]*blacklistEntry
}

func newPeerSlots(config Config, clk clock.Clock, localPeerID core.PeerID) *peerSlots {
	return &peerSlots{
		config:      config,
		clk:         clk,
		localPeerID: localPeerID,
		conns:       make(map[core.PeerID]peerEntry),
		blacklist:   make(map[core.PeerID]*blacklistEntry),
	}
}

// activeConns returns every established connection.
func (s *peerSlots) activeConns() []*conn.PeerConnection {
	var active []*conn.PeerConnection
	for _, e := range s.conns {
		if e.status == statusActive {
			active = append(active, e.conn)
		}
	}
	return active
}

// saturated reports whether every slot is occupied by an active conn.
func (s *peerSlots) saturated() bool {
	var active int
	for _, e := range s.conns {
		if e.status == statusActive {
			active++
		}
	}
	return active == s.config.MaxPeers
}

func (s *peerSlots) blacklistPeer(peerID core.PeerID) error {
	if s.config.DisableBlacklist {
		return nil
	}
	if e, ok := s.blacklist[peerID]; ok && e.blacklisted(s.clk.Now()) {
		return ErrAlreadyBlacklisted
	}
	s.blacklist[peerID] = &blacklistEntry{s.clk.Now().Add(s.config.BlacklistDuration)}
	return nil
}

func (s *peerSlots) blacklisted(peerID core.PeerID) bool {
	e, ok := s.blacklist[peerID]
	return ok && e.blacklisted(s.clk.Now())
}

func (s *peerSlots) clearBlacklist() {
	s.blacklist = make(map[core.PeerID]*blacklistEntry)
}

func (s *peerSlots) blacklistSnapshot() []BlacklistedPeer {
	var peers []BlacklistedPeer
	now := s.clk.Now()
	for peerID, e := range s.blacklist {
		if !e.blacklisted(now) {
			continue
		}
		peers = append(peers, BlacklistedPeer{PeerID: peerID, Remaining: e.remaining(now)})
	}
	return peers
}

// addPending reserves a slot for peerID ahead of a handshake completing,
// rejecting the attempt if the torrent is at capacity or peerID shares too
// many active connections with neighbors (an overlapping-swarm guard
// against a single dense clique of redundant conns).
func (s *peerSlots) addPending(peerID core.PeerID, neighbors []core.PeerID) error {
	if len(s.conns) >= s.config.MaxPeers {
		return ErrTorrentAtCapacity
	}
	switch s.conns[peerID].status {
	case statusUninit:
		if s.numMutualConns(neighbors) > s.config.MaxMutualConnections {
			return ErrTooManyMutualConns
		}
		s.conns[peerID] = peerEntry{status: statusPending}
		return nil
	case statusPending:
		return ErrConnAlreadyPending
	case statusActive:
		return ErrConnAlreadyActive
	default:
		return errors.New("invariant violation: unknown peer slot status")
	}
}

func (s *peerSlots) deletePending(peerID core.PeerID) {
	if s.conns[peerID].status != statusPending {
		return
	}
	delete(s.conns, peerID)
}

// movePendingToActive promotes a previously reserved slot once c's
// handshake and initial bitfield exchange has completed.
func (s *peerSlots) movePendingToActive(c *conn.PeerConnection) error {
	if c.IsClosed() {
		return conn.ErrClosedLocally
	}
	if s.conns[c.PeerID()].status != statusPending {
		return ErrInvalidActiveTransition
	}
	s.conns[c.PeerID()] = peerEntry{status: statusActive, conn: c}
	return nil
}

// deleteActive removes c, a no-op if c is not the active conn on record
// for its peer id (a newer conn may have since replaced it).
func (s *peerSlots) deleteActive(c *conn.PeerConnection) {
	e := s.conns[c.PeerID()]
	if e.status != statusActive || e.conn != c {
		return
	}
	delete(s.conns, c.PeerID())
}

func (s *peerSlots) numMutualConns(neighbors []core.PeerID) int {
	var n int
	for _, id := range neighbors {
		if s.conns[id].status == statusPending || s.conns[id].status == statusActive {
			n++
		}
	}
	return n
}
