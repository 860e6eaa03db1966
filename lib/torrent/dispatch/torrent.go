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
	"fmt"
	"sync"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/activepiece"
	"github.com/uber/torrentd/lib/torrent/bitfield"
	"github.com/uber/torrentd/lib/torrent/catalog"
	"github.com/uber/torrentd/lib/torrent/conn"
	"github.com/uber/torrentd/lib/torrent/hash"
	"github.com/uber/torrentd/lib/torrent/scheduler"
	"github.com/uber/torrentd/lib/torrent/storage"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// ErrTorrentClosed is returned by Torrent methods called after Close.
var ErrTorrentClosed = errors.New("torrent closed")

type addPeerEvent struct {
	pc        *conn.PeerConnection
	neighbors []core.PeerID
	result    chan error
}

type peerMessageEvent struct {
	pc  *conn.PeerConnection
	msg *conn.Message
}

type peerClosedEvent struct {
	pc     *conn.PeerConnection
	reason error
}

type restoreVerifiedEvent struct {
	indices []int
	done    chan struct{}
}

type numPeersEvent struct {
	result chan int
}

// Torrent is the per-torrent coordinator: it owns the peer set, dispatches
// incoming wire messages to the request scheduler, and runs the piece
// finalization protocol. The peer set and active pieces are touched only
// by run, the single goroutine serializing a torrent's state; verified is
// also read by VerifiedBitfield and Complete through its own lock.
type Torrent struct {
	config          Config
	schedulerConfig scheduler.Config
	localPeerID     core.PeerID
	catalog         *catalog.PieceCatalog
	storage         storage.Storage
	hasher          hash.Hasher
	clk             clock.Clock
	stats           tally.Scope
	logger          *zap.SugaredLogger
	events          Events

	verified *bitfield.VerifiedBitfield
	manager  *activepiece.Manager
	peers    *peerSlots

	inbox     chan interface{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Torrent and starts its run loop. cat must already be
// hydrated; the caller is responsible for fetching metainfo before
// constructing a Torrent (see catalog.PieceCatalog.Hydrate).
func New(
	config Config,
	schedulerConfig scheduler.Config,
	apConfig activepiece.Config,
	localPeerID core.PeerID,
	cat *catalog.PieceCatalog,
	store storage.Storage,
	hasher hash.Hasher,
	clk clock.Clock,
	stats tally.Scope,
	logger *zap.SugaredLogger,
	events Events,
) *Torrent {

	config = config.applyDefaults()

	t := &Torrent{
		config:          config,
		schedulerConfig: schedulerConfig,
		localPeerID:     localPeerID,
		catalog:         cat,
		storage:         store,
		hasher:          hasher,
		clk:             clk,
		stats:           stats.Tagged(map[string]string{"module": "dispatch"}),
		logger:          logger,
		events:          events,
		verified:        bitfield.NewVerified(cat.NumPieces()),
		manager:         activepiece.NewManager(apConfig, cat, config.BlockSize, clk),
		peers:           newPeerSlots(config, clk, localPeerID),
		inbox:           make(chan interface{}, config.InboxSize),
		done:            make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// InfoHash returns the torrent's info hash.
func (t *Torrent) InfoHash() core.InfoHash {
	return t.catalog.InfoHash()
}

// VerifiedBitfield returns a snapshot of the pieces verified so far.
func (t *Torrent) VerifiedBitfield() *bitfield.BitField {
	return t.verified.Copy()
}

// Complete reports whether every piece has been verified.
func (t *Torrent) Complete() bool {
	return t.verified.Complete()
}

// AddPeer registers an already-handshaken connection, promoting it
// straight to active. neighbors lists peer ids pc announced as already
// connected to it, used to enforce MaxMutualConnections. Closes pc and
// returns an error if the torrent has no room for it.
func (t *Torrent) AddPeer(pc *conn.PeerConnection, neighbors []core.PeerID) error {
	result := make(chan error, 1)
	select {
	case t.inbox <- addPeerEvent{pc: pc, neighbors: neighbors, result: result}:
	case <-t.done:
		return ErrTorrentClosed
	}
	select {
	case err := <-result:
		return err
	case <-t.done:
		return ErrTorrentClosed
	}
}

// RestoreVerified marks indices verified without touching Storage or
// starting any network activity, for rebuilding a Torrent from a
// previously taken VerifiedBitfield Snapshot.
func (t *Torrent) RestoreVerified(indices []int) {
	doneCh := make(chan struct{})
	select {
	case t.inbox <- restoreVerifiedEvent{indices: indices, done: doneCh}:
		<-doneCh
	case <-t.done:
	}
}

// NumPeers returns the number of currently active peer connections.
func (t *Torrent) NumPeers() int {
	result := make(chan int, 1)
	select {
	case t.inbox <- numPeersEvent{result: result}:
	case <-t.done:
		return 0
	}
	select {
	case n := <-result:
		return n
	case <-t.done:
		return 0
	}
}

// Close tears down every peer connection and stops the run loop.
func (t *Torrent) Close() {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

func (t *Torrent) run() {
	defer t.wg.Done()

	ticker := t.clk.Ticker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-t.inbox:
			t.handleEvent(ev)
		case <-ticker.C:
			t.handleTick()
		case <-t.done:
			for _, pc := range t.peers.activeConns() {
				pc.Close(conn.ErrClosedLocally)
			}
			return
		}
	}
}

func (t *Torrent) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case addPeerEvent:
		t.handleAddPeer(e)
	case peerMessageEvent:
		t.handlePeerMessage(e.pc, e.msg)
	case peerClosedEvent:
		t.handlePeerClosed(e.pc, e.reason)
	case restoreVerifiedEvent:
		for _, i := range e.indices {
			if i >= 0 && i < t.verified.Len() {
				t.verified.MarkVerified(i)
			}
		}
		close(e.done)
	case numPeersEvent:
		e.result <- len(t.peers.activeConns())
	default:
		t.logger.Errorf("Unknown dispatch event type: %T", ev)
	}
}

func (t *Torrent) handleTick() {
	if t.manager.CheckTimeouts() > 0 {
		t.runSchedulerAll()
	}
}

func (t *Torrent) handleAddPeer(e addPeerEvent) {
	if err := t.peers.addPending(e.pc.PeerID(), e.neighbors); err != nil {
		e.result <- err
		e.pc.Close(conn.ErrClosedLocally)
		return
	}
	if err := t.peers.movePendingToActive(e.pc); err != nil {
		e.result <- err
		e.pc.Close(conn.ErrClosedLocally)
		return
	}

	t.wg.Add(1)
	go t.forwardPeer(e.pc)

	t.stats.Counter("peers_added").Inc(1)
	t.events.PeerAdded(t.InfoHash(), e.pc.PeerID())

	// Choke/interest policy is out of scope: every peer is unchoked
	// unconditionally and we declare interest by simply requesting blocks
	// once it unchokes us.
	e.pc.Send(conn.NewBitfield(t.verified.Copy().Bytes()))
	e.pc.Send(conn.NewUnchoke())

	e.result <- nil
}

// forwardPeer drains pc's receiver into the run loop's inbox, preserving
// per-peer wire ordering, until pc closes.
func (t *Torrent) forwardPeer(pc *conn.PeerConnection) {
	defer t.wg.Done()
	for msg := range pc.Receiver() {
		select {
		case t.inbox <- peerMessageEvent{pc: pc, msg: msg}:
		case <-t.done:
			return
		}
	}
	select {
	case t.inbox <- peerClosedEvent{pc: pc, reason: pc.CloseReason()}:
	case <-t.done:
	}
}

func (t *Torrent) handlePeerClosed(pc *conn.PeerConnection, reason error) {
	t.stats.Counter("peers_removed").Inc(1)
	t.peers.deleteActive(pc)
	t.manager.ClearRequestsForPeer(pc.PeerID())
	t.events.PeerRemoved(t.InfoHash(), pc.PeerID(), reason)

	if errors.Is(reason, conn.ErrMalformedFrame) || errors.Is(reason, conn.ErrOversizePayload) {
		t.peers.blacklistPeer(pc.PeerID())
	}

	t.runSchedulerAll()
}

func (t *Torrent) handlePeerMessage(pc *conn.PeerConnection, msg *conn.Message) {
	switch msg.ID {
	case conn.Choke:
		pc.SetPeerChoking(true)
	case conn.Unchoke:
		pc.SetPeerChoking(false)
		t.runSchedulerForPeer(pc)
	case conn.Interested, conn.NotInterested:
		// Choke/interest policy is out of scope; every peer is always
		// unchoked, so there is nothing to act on here.
	case conn.Have:
		pc.SetPeerHave(msg.Index, t.catalog.NumPieces())
		t.runSchedulerForPeer(pc)
	case conn.Bitfield:
		pc.SetPeerBitfield(bitfield.FromBytes(msg.BitfieldBytes, t.catalog.NumPieces()))
		t.runSchedulerForPeer(pc)
	case conn.Request:
		t.handleRequest(pc, msg)
	case conn.Piece:
		t.handleBlock(pc, msg)
	case conn.Cancel:
		// Every REQUEST is answered synchronously in handleRequest, so
		// there is never a queued send for CANCEL to preempt.
	}
}

func (t *Torrent) handleRequest(pc *conn.PeerConnection, msg *conn.Message) {
	if !t.verified.Has(msg.Index) {
		return
	}
	data, err := t.storage.ReadPiece(msg.Index)
	if err != nil {
		t.logger.With("hash", t.InfoHash(), "piece", msg.Index).Errorf(
			"Error reading piece to serve request: %s", err)
		return
	}
	end := msg.Begin + int64(msg.Length)
	if msg.Begin < 0 || end > int64(len(data)) {
		return
	}
	pc.Send(conn.NewPiece(msg.Index, msg.Begin, data[msg.Begin:end]))
}

func (t *Torrent) handleBlock(pc *conn.PeerConnection, msg *conn.Message) {
	pc.DecrementPending()

	ap := t.manager.Get(msg.Index)
	if ap == nil {
		// Piece already finalized (or never started) and this is a
		// straggling duplicate delivery; harmless.
		return
	}

	blockIndex := int(msg.Begin) / t.config.BlockSize
	added := ap.AddBlock(blockIndex, msg.Block, pc.PeerID(), t.clk.Now())
	if !added || !ap.HaveAllBlocks() {
		return
	}

	t.finalizePiece(msg.Index, ap)
}

func (t *Torrent) finalizePiece(index int, ap *activepiece.ActivePiece) {
	data, err := ap.Assemble()
	if err != nil {
		// Shouldn't happen given HaveAllBlocks just returned true.
		t.events.Error(t.InfoHash(), ErrorKindConfig, fmt.Errorf("assemble piece %d: %w", index, err))
		return
	}

	actual, err := t.hasher.SHA1(data)
	if err != nil {
		t.events.Error(t.InfoHash(), ErrorKindStorage, fmt.Errorf("hash piece %d: %w", index, err))
		return
	}

	expected, err := t.catalog.ExpectedHash(index)
	if err != nil {
		t.events.Error(t.InfoHash(), ErrorKindConfig, err)
		return
	}

	if actual != expected {
		t.stats.Counter("piece_hash_mismatch").Inc(1)
		t.events.PieceHashMismatch(t.InfoHash(), index)
		t.manager.Remove(index)
		t.runSchedulerAll()
		return
	}

	if err := t.storage.WritePiece(index, data); err != nil {
		t.events.Error(t.InfoHash(), ErrorKindStorage, fmt.Errorf("write piece %d: %w", index, err))
		t.manager.Remove(index)
		t.runSchedulerAll()
		return
	}

	t.manager.Remove(index)
	t.verified.MarkVerified(index)
	t.stats.Counter("piece_verified").Inc(1)
	t.events.PieceVerified(t.InfoHash(), index)

	t.broadcastHave(index)

	if t.verified.Complete() {
		t.events.Complete(t.InfoHash())
	}

	t.runSchedulerAll()
}

func (t *Torrent) broadcastHave(index int) {
	for _, pc := range t.peers.activeConns() {
		pc.Send(conn.NewHave(index))
	}
}

func (t *Torrent) runSchedulerForPeer(pc *conn.PeerConnection) {
	addrs := scheduler.Schedule(
		pc, t.manager, t.verified, t.catalog.NumPieces(), nil, t.schedulerConfig, t.clk.Now())
	for _, addr := range addrs {
		pc.Send(conn.NewRequest(addr.PieceIndex, addr.Begin, addr.Length))
		pc.IncrementPending()
	}
}

func (t *Torrent) runSchedulerAll() {
	for _, pc := range t.peers.activeConns() {
		if !pc.PeerChoking() {
			t.runSchedulerForPeer(pc)
		}
	}
}
