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
	"net"
	"time"

	"github.com/uber/torrentd/core"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

type noopEvents struct{}

func (e noopEvents) ConnClosed(*PeerConnection, error) {}

// noopDeadline adapts a net.Conn without real deadline support (e.g.
// net.Pipe) so PeerConnection's deadline calls are no-ops.
type noopDeadline struct {
	net.Conn
}

func (n noopDeadline) SetDeadline(t time.Time) error      { return nil }
func (n noopDeadline) SetReadDeadline(t time.Time) error  { return nil }
func (n noopDeadline) SetWriteDeadline(t time.Time) error { return nil }

// PipeFixture returns two connected PeerConnections wired to opposite ends
// of a net.Pipe, for testing message exchange without a real socket.
func PipeFixture(config Config, infoHash core.InfoHash) (local, remote *PeerConnection, cleanup func()) {
	nc1, nc2 := net.Pipe()

	h := HandshakerFixture(config)

	var err error
	local, err = h.newConn(noopDeadline{nc1}, core.PeerIDFixture(), infoHash, false)
	if err != nil {
		panic(err)
	}

	remote, err = h.newConn(noopDeadline{nc2}, core.PeerIDFixture(), infoHash, true)
	if err != nil {
		panic(err)
	}

	return local, remote, func() {
		local.Close(ErrClosedLocally)
		remote.Close(ErrClosedLocally)
	}
}

// HandshakerFixture returns a Handshaker for testing.
func HandshakerFixture(config Config) *Handshaker {
	h, err := NewHandshaker(
		config,
		tally.NewTestScope("", nil),
		clock.New(),
		core.PeerIDFixture(),
		noopEvents{},
		zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	return h
}

// ConfigFixture returns a Config for testing.
func ConfigFixture() Config {
	return Config{}.applyDefaults()
}
