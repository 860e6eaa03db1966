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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/utils/memsize"
)

const (
	pstr    = "BitTorrent protocol"
	pstrlen = byte(len(pstr))

	// handshakeLen is the full fixed-size handshake: pstrlen + pstr + 8
	// reserved bytes + 20-byte info hash + 20-byte peer id.
	handshakeLen = 1 + len(pstr) + 8 + 20 + 20

	// maxMessageSize bounds a single length-prefixed frame. REQUEST
	// payloads up to 2^17 bytes must be accepted even though this engine
	// never issues requests that large.
	maxMessageSize = 128*memsize.KB + 16
)

// MessageID identifies the type of a post-handshake wire message.
type MessageID byte

// Message ids, per the canonical peer wire protocol.
const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// ErrKeepAlive is returned by readMessage when the frame is a zero-length
// KEEP-ALIVE, which carries no id or payload.
var ErrKeepAlive = errors.New("keep-alive message")

// Message is a single post-handshake wire message. Only the fields
// relevant to ID are populated.
type Message struct {
	ID MessageID

	// Have / Request / Piece / Cancel.
	Index int

	// Request / Piece / Cancel.
	Begin  int64
	Length int

	// Bitfield.
	BitfieldBytes []byte

	// Piece.
	Block []byte
}

// NewChoke returns a CHOKE message.
func NewChoke() *Message { return &Message{ID: Choke} }

// NewUnchoke returns an UNCHOKE message.
func NewUnchoke() *Message { return &Message{ID: Unchoke} }

// NewInterested returns an INTERESTED message.
func NewInterested() *Message { return &Message{ID: Interested} }

// NewNotInterested returns a NOT_INTERESTED message.
func NewNotInterested() *Message { return &Message{ID: NotInterested} }

// NewHave returns a HAVE message announcing piece index.
func NewHave(index int) *Message { return &Message{ID: Have, Index: index} }

// NewBitfield returns a BITFIELD message carrying the BEP 3 wire-form bits.
func NewBitfield(bits []byte) *Message { return &Message{ID: Bitfield, BitfieldBytes: bits} }

// NewRequest returns a REQUEST message for the given block.
func NewRequest(index int, begin int64, length int) *Message {
	return &Message{ID: Request, Index: index, Begin: begin, Length: length}
}

// NewPiece returns a PIECE message delivering block's bytes.
func NewPiece(index int, begin int64, block []byte) *Message {
	return &Message{ID: Piece, Index: index, Begin: begin, Length: len(block), Block: block}
}

// NewCancel returns a CANCEL message for a previously issued REQUEST.
func NewCancel(index int, begin int64, length int) *Message {
	return &Message{ID: Cancel, Index: index, Begin: begin, Length: length}
}

func (m *Message) encodePayload() []byte {
	switch m.ID {
	case Choke, Unchoke, Interested, NotInterested:
		return nil
	case Have:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(m.Index))
		return b
	case Bitfield:
		return m.BitfieldBytes
	case Request, Cancel:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], uint32(m.Index))
		binary.BigEndian.PutUint32(b[4:8], uint32(m.Begin))
		binary.BigEndian.PutUint32(b[8:12], uint32(m.Length))
		return b
	case Piece:
		b := make([]byte, 8+len(m.Block))
		binary.BigEndian.PutUint32(b[0:4], uint32(m.Index))
		binary.BigEndian.PutUint32(b[4:8], uint32(m.Begin))
		copy(b[8:], m.Block)
		return b
	default:
		return nil
	}
}

func decodeMessage(id MessageID, payload []byte) (*Message, error) {
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		return &Message{ID: id}, nil
	case Have:
		if len(payload) != 4 {
			return nil, fmt.Errorf("have: expected 4 byte payload, got %d", len(payload))
		}
		return &Message{ID: id, Index: int(binary.BigEndian.Uint32(payload))}, nil
	case Bitfield:
		bits := make([]byte, len(payload))
		copy(bits, payload)
		return &Message{ID: id, BitfieldBytes: bits}, nil
	case Request, Cancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("%s: expected 12 byte payload, got %d", id, len(payload))
		}
		return &Message{
			ID:     id,
			Index:  int(binary.BigEndian.Uint32(payload[0:4])),
			Begin:  int64(binary.BigEndian.Uint32(payload[4:8])),
			Length: int(binary.BigEndian.Uint32(payload[8:12])),
		}, nil
	case Piece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("piece: payload too short: %d", len(payload))
		}
		block := make([]byte, len(payload)-8)
		copy(block, payload[8:])
		return &Message{
			ID:     id,
			Index:  int(binary.BigEndian.Uint32(payload[0:4])),
			Begin:  int64(binary.BigEndian.Uint32(payload[4:8])),
			Length: len(block),
			Block:  block,
		}, nil
	default:
		return nil, fmt.Errorf("unknown message id: %d", id)
	}
}

func sendMessage(nc net.Conn, msg *Message) error {
	payload := msg.encodePayload()
	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(payload)))
	frame[4] = byte(msg.ID)
	copy(frame[5:], payload)
	for len(frame) > 0 {
		n, err := nc.Write(frame)
		if err != nil {
			return fmt.Errorf("write frame: %s", err)
		}
		frame = frame[n:]
	}
	return nil
}

func sendMessageWithTimeout(nc net.Conn, msg *Message, timeout time.Duration) error {
	// net's deadlines use the system clock, not the injected clock.Clock.
	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	return sendMessage(nc, msg)
}

// readMessage reads a single length-prefixed frame. A zero-length frame
// (KEEP-ALIVE) returns ErrKeepAlive.
func readMessage(nc net.Conn) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %s", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, ErrKeepAlive
	}
	if uint64(length) > maxMessageSize {
		return nil, fmt.Errorf("message exceeds max size: %d > %d", length, maxMessageSize)
	}
	var idBuf [1]byte
	if _, err := io.ReadFull(nc, idBuf[:]); err != nil {
		return nil, fmt.Errorf("read id: %s", err)
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(nc, payload); err != nil {
		return nil, fmt.Errorf("read payload: %s", err)
	}
	return decodeMessage(MessageID(idBuf[0]), payload)
}

func readMessageWithTimeout(nc net.Conn, timeout time.Duration) (*Message, error) {
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %s", err)
	}
	return readMessage(nc)
}

// writeHandshake writes the fixed 19-byte-header BEP 3 handshake.
func writeHandshake(nc net.Conn, infoHash core.InfoHash, peerID core.PeerID) error {
	buf := make([]byte, handshakeLen)
	buf[0] = pstrlen
	copy(buf[1:], pstr)
	// 8 reserved bytes left zeroed; no BEP 10 extension bits set.
	copy(buf[1+len(pstr)+8:], infoHash.Bytes())
	copy(buf[1+len(pstr)+8+20:], peerID[:])
	for len(buf) > 0 {
		n, err := nc.Write(buf)
		if err != nil {
			return fmt.Errorf("write handshake: %s", err)
		}
		buf = buf[n:]
	}
	return nil
}

// readHandshake reads and validates the fixed 19-byte-header handshake.
func readHandshake(nc net.Conn) (core.InfoHash, core.PeerID, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(nc, buf); err != nil {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("read handshake: %s", err)
	}
	if buf[0] != pstrlen {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("invalid pstrlen: %d", buf[0])
	}
	if string(buf[1:1+len(pstr)]) != pstr {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("invalid protocol string: %q", buf[1:1+len(pstr)])
	}
	infoHash := core.NewInfoHashFromBytes(buf[1+len(pstr)+8 : 1+len(pstr)+8+20])
	peerIDBytes := buf[1+len(pstr)+8+20 : 1+len(pstr)+8+40]
	var peerID core.PeerID
	copy(peerID[:], peerIDBytes)
	return infoHash, peerID, nil
}
