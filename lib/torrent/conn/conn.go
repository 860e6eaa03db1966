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
	"sync"
	"time"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/bitfield"
	"github.com/uber/torrentd/utils/bandwidth"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is a position in the PeerConnection lifecycle state machine.
type State int

// States of a PeerConnection. Connecting and Handshaking are transient,
// owned by the dialing/accepting code in Handshaker; a *PeerConnection
// value always starts out in StateBitfield, since by construction time the
// handshake has already completed.
const (
	StateConnecting State = iota
	StateHandshaking
	StateBitfield
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateBitfield:
		return "bitfield"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons. PeerConnection records one of these whenever it
// transitions to StateClosed so callers can decide whether to blacklist the
// peer.
var (
	ErrClosedByPeer     = errors.New("closed by remote peer")
	ErrClosedLocally    = errors.New("closed locally")
	ErrClosedCancelled  = errors.New("closed: cancelled")
	ErrHandshakeTimeout = errors.New("closed: handshake timeout")
	ErrKeepAliveTimeout = errors.New("closed: keepalive timeout exceeded")
	ErrMalformedFrame   = errors.New("closed: malformed frame")
	ErrOversizePayload  = errors.New("closed: oversize payload")
)

// Events notifies a PeerConnection's owner of lifecycle transitions.
type Events interface {
	ConnClosed(*PeerConnection, error)
}

// PeerConnection manages one wire-protocol session with a remote peer for a
// single torrent. Reads and writes are pumped on dedicated goroutines;
// higher-level logic (dispatch.Torrent) drains Receiver() and calls Send().
type PeerConnection struct {
	peerID      core.PeerID
	localPeerID core.PeerID
	infoHash    core.InfoHash
	createdAt   time.Time
	bandwidth   *bandwidth.Limiter

	events Events

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger

	openedByRemote bool

	startOnce sync.Once

	sender   chan *Message
	receiver chan *Message

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	mu              sync.Mutex
	state           State
	closeReason     error
	peerChoking     bool // true until the remote peer sends UNCHOKE.
	amChoking       bool
	peerInterested  bool
	amInterested    bool
	requestsPending int
	peerBitfield    *bitfield.BitField
}

// New constructs a PeerConnection around an already-handshaken socket. The
// connection begins life in StateBitfield, awaiting either a BITFIELD/HAVE
// message or the expiry of the bitfield grace period.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	bw *bandwidth.Limiter,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*PeerConnection, error) {

	config = config.applyDefaults()

	// Clear handshake-time deadlines; idle management from here on is
	// driven by KeepAliveTimeout instead.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	c := &PeerConnection{
		peerID:         remotePeerID,
		localPeerID:    localPeerID,
		infoHash:       infoHash,
		createdAt:      clk.Now(),
		bandwidth:      bw,
		events:         events,
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats.Tagged(map[string]string{"module": "conn"}),
		logger:         logger,
		openedByRemote: openedByRemote,
		sender:         make(chan *Message, config.SenderBufferSize),
		receiver:       make(chan *Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
		state:          StateBitfield,
		peerChoking:    true,
		amChoking:      true,
	}
	return c, nil
}

// Start begins the read/write pumps and the bitfield grace timer.
func (c *PeerConnection) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
		go c.graceTimer()
	})
}

// PeerID returns the remote peer's id.
func (c *PeerConnection) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the torrent this connection transmits.
func (c *PeerConnection) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns when the connection was constructed.
func (c *PeerConnection) CreatedAt() time.Time { return c.createdAt }

// OpenedByRemote reports whether the remote peer initiated the connection.
func (c *PeerConnection) OpenedByRemote() bool { return c.openedByRemote }

func (c *PeerConnection) String() string {
	return fmt.Sprintf("PeerConnection(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// State returns the connection's current lifecycle state.
func (c *PeerConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerChoking reports whether the remote peer is choking us.
func (c *PeerConnection) PeerChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerChoking
}

// RequestsPending returns the number of outstanding REQUESTs awaiting a
// PIECE or explicit cancel.
func (c *PeerConnection) RequestsPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsPending
}

// PipelineBudget returns how many more REQUESTs may be issued before
// hitting the configured pipeline depth.
func (c *PeerConnection) PipelineBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	budget := c.config.PipelineDepth - c.requestsPending
	if budget < 0 {
		return 0
	}
	return budget
}

// IncrementPending records an outgoing REQUEST.
func (c *PeerConnection) IncrementPending() {
	c.mu.Lock()
	c.requestsPending++
	c.mu.Unlock()
}

// DecrementPending records a REQUEST slot being freed, by either a matching
// PIECE or an acknowledged CANCEL.
func (c *PeerConnection) DecrementPending() {
	c.mu.Lock()
	if c.requestsPending > 0 {
		c.requestsPending--
	}
	c.mu.Unlock()
}

// PeerBitfield returns a copy of the remote peer's last known bitfield, or
// nil if none has been received yet.
func (c *PeerConnection) PeerBitfield() *bitfield.BitField {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerBitfield == nil {
		return nil
	}
	return c.peerBitfield.Copy()
}

// SetPeerBitfield installs the remote peer's bitfield, received via a
// BITFIELD message, and promotes the connection to Established.
func (c *PeerConnection) SetPeerBitfield(b *bitfield.BitField) {
	c.mu.Lock()
	c.peerBitfield = b
	c.mu.Unlock()
	c.promoteToEstablished()
}

// SetPeerHave marks piece index present in the remote peer's bitfield,
// lazily allocating one if no BITFIELD has arrived yet, and promotes the
// connection to Established.
func (c *PeerConnection) SetPeerHave(index, numPieces int) {
	c.mu.Lock()
	if c.peerBitfield == nil {
		c.peerBitfield = bitfield.New(numPieces)
	}
	c.peerBitfield.Set(index)
	c.mu.Unlock()
	c.promoteToEstablished()
}

func (c *PeerConnection) promoteToEstablished() {
	c.mu.Lock()
	if c.state == StateBitfield {
		c.state = StateEstablished
	}
	c.mu.Unlock()
}

// SetPeerChoking records a CHOKE/UNCHOKE from the remote peer.
func (c *PeerConnection) SetPeerChoking(choking bool) {
	c.mu.Lock()
	c.peerChoking = choking
	c.mu.Unlock()
}

// Send enqueues msg for delivery to the remote peer.
func (c *PeerConnection) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Tagged(map[string]string{
			"dropped_message_type": msg.ID.String(),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns a channel of inbound messages.
func (c *PeerConnection) Receiver() <-chan *Message {
	return c.receiver
}

// Close begins the shutdown sequence, recording reason as the cause.
func (c *PeerConnection) Close(reason error) {
	if !c.closed.CAS(false, true) {
		return
	}
	c.mu.Lock()
	c.state = StateClosed
	c.closeReason = reason
	c.mu.Unlock()

	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c, reason)
	}()
}

// IsClosed reports whether Close has been called.
func (c *PeerConnection) IsClosed() bool {
	return c.closed.Load()
}

// CloseReason returns the reason the connection was closed, or nil if it is
// still open.
func (c *PeerConnection) CloseReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *PeerConnection) graceTimer() {
	timer := c.clk.Timer(c.config.BitfieldGracePeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.promoteToEstablished()
	case <-c.done:
	}
}

func (c *PeerConnection) readPayload(length int) ([]byte, error) {
	if err := c.bandwidth.ReserveIngress(int64(length)); err != nil {
		return nil, fmt.Errorf("ingress bandwidth: %s", err)
	}
	c.countBandwidth("ingress", int64(8*length))
	return nil, nil
}

func (c *PeerConnection) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close(ErrClosedByPeer)
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.nc.SetReadDeadline(c.clk.Now().Add(c.config.KeepAliveTimeout)); err != nil {
			c.log().Infof("Error setting read deadline, exiting read loop: %s", err)
			return
		}
		msg, err := readMessage(c.nc)
		if err == ErrKeepAlive {
			continue
		}
		if err != nil {
			c.log().Infof("Error reading message from socket, exiting read loop: %s", err)
			c.recordCloseCause(err)
			return
		}
		if msg.ID == Piece {
			if _, err := c.readPayload(len(msg.Block)); err != nil {
				c.log().Errorf("Error reserving ingress bandwidth: %s", err)
				return
			}
		}
		select {
		case c.receiver <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *PeerConnection) sendMessage(msg *Message) error {
	if err := sendMessage(c.nc, msg); err != nil {
		return fmt.Errorf("send message: %s", err)
	}
	if msg.ID == Piece {
		if err := c.bandwidth.ReserveEgress(int64(len(msg.Block))); err != nil {
			return fmt.Errorf("egress bandwidth: %s", err)
		}
		c.countBandwidth("egress", int64(8*len(msg.Block)))
	}
	return nil
}

func (c *PeerConnection) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close(ErrClosedLocally)
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := c.sendMessage(msg); err != nil {
				c.log().Infof("Error writing message to socket, exiting write loop: %s", err)
				return
			}
		}
	}
}

func (c *PeerConnection) countBandwidth(direction string, n int64) {
	c.stats.Tagged(map[string]string{
		"piece_bandwidth_direction": direction,
	}).Counter("piece_bandwidth").Inc(n)
}

// recordCloseCause classifies a read error into one of the sentinel close
// reasons so callers can decide whether to blacklist the peer.
func (c *PeerConnection) recordCloseCause(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeReason != nil {
		return
	}
	c.closeReason = fmt.Errorf("%w: %s", ErrMalformedFrame, err)
}

func (c *PeerConnection) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
