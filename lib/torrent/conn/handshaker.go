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
package conn

import (
	"errors"
	"fmt"
	"net"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/utils/bandwidth"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// ErrInfoHashMismatch is returned when a handshake's info hash does not
// match the torrent being opened.
var ErrInfoHashMismatch = errors.New("info hash mismatch")

// ErrPeerIDMismatch is returned when an outbound handshake's peer id does
// not match the peer that was dialed.
var ErrPeerIDMismatch = errors.New("peer id mismatch")

// PendingConn is a raw socket that has exchanged a valid handshake but has
// not yet been promoted into a PeerConnection.
type PendingConn struct {
	nc       net.Conn
	peerID   core.PeerID
	infoHash core.InfoHash
}

// PeerID returns the remote peer's id, as announced in its handshake.
func (pc *PendingConn) PeerID() core.PeerID { return pc.peerID }

// InfoHash returns the torrent the remote peer wants to open.
func (pc *PendingConn) InfoHash() core.InfoHash { return pc.infoHash }

// Close closes the underlying socket.
func (pc *PendingConn) Close() { pc.nc.Close() }

// Handshaker performs the BEP 3 handshake for both inbound and outbound
// connections, then hands back a PeerConnection ready for Start.
type Handshaker struct {
	config    Config
	stats     tally.Scope
	clk       clock.Clock
	bandwidth *bandwidth.Limiter
	peerID    core.PeerID
	events    Events
	logger    *zap.SugaredLogger
}

// NewHandshaker creates a new Handshaker.
func NewHandshaker(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	peerID core.PeerID,
	events Events,
	logger *zap.SugaredLogger) (*Handshaker, error) {

	config = config.applyDefaults()

	bl, err := bandwidth.NewLimiter(config.Bandwidth, bandwidth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("bandwidth: %s", err)
	}

	return &Handshaker{
		config:    config,
		stats:     stats.Tagged(map[string]string{"module": "conn"}),
		clk:       clk,
		bandwidth: bl,
		peerID:    peerID,
		events:    events,
		logger:    logger,
	}, nil
}

// Accept upgrades a raw socket opened by a remote peer into a PendingConn
// by reading (but not sending) a handshake.
func (h *Handshaker) Accept(nc net.Conn) (*PendingConn, error) {
	if err := nc.SetDeadline(h.clk.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}
	infoHash, peerID, err := readHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w: %s", ErrMalformedFrame, err)
	}
	return &PendingConn{nc: nc, peerID: peerID, infoHash: infoHash}, nil
}

// Establish completes an inbound handshake by sending our own handshake
// back to the remote peer, then returns a started PeerConnection.
func (h *Handshaker) Establish(pc *PendingConn, numPieces int) (*PeerConnection, error) {
	if err := writeHandshake(pc.nc, pc.infoHash, h.peerID); err != nil {
		return nil, fmt.Errorf("write handshake: %s", err)
	}
	return h.newConn(pc.nc, pc.peerID, pc.infoHash, true)
}

// Initialize dials addr and performs a full outbound handshake for
// infoHash, verifying the remote peer identifies itself as peerID.
func (h *Handshaker) Initialize(
	peerID core.PeerID, addr string, infoHash core.InfoHash) (*PeerConnection, error) {

	nc, err := net.DialTimeout("tcp", addr, h.config.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	c, err := h.fullHandshake(nc, peerID, infoHash)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (h *Handshaker) fullHandshake(
	nc net.Conn, peerID core.PeerID, infoHash core.InfoHash) (*PeerConnection, error) {

	if err := nc.SetDeadline(h.clk.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}
	if err := writeHandshake(nc, infoHash, h.peerID); err != nil {
		return nil, fmt.Errorf("write handshake: %s", err)
	}
	remoteInfoHash, remotePeerID, err := readHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w: %s", ErrMalformedFrame, err)
	}
	if remoteInfoHash != infoHash {
		return nil, ErrInfoHashMismatch
	}
	if remotePeerID != peerID {
		return nil, ErrPeerIDMismatch
	}
	return h.newConn(nc, remotePeerID, infoHash, false)
}

func (h *Handshaker) newConn(
	nc net.Conn, remotePeerID core.PeerID, infoHash core.InfoHash, openedByRemote bool) (*PeerConnection, error) {

	c, err := New(
		h.config,
		h.stats,
		h.clk,
		h.bandwidth,
		h.events,
		nc,
		h.peerID,
		remotePeerID,
		infoHash,
		openedByRemote,
		h.logger)
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
