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

// Package conn implements the peer wire protocol: a fixed 19-byte BEP 3
// handshake followed by length-prefixed CHOKE/UNCHOKE/.../PIECE framing.
package conn

import (
	"time"

	"github.com/uber/torrentd/utils/bandwidth"
	"github.com/uber/torrentd/utils/memsize"
)

// Config is the configuration for individual peer connections.
type Config struct {

	// HandshakeTimeout bounds dialing and the initial 19-byte handshake
	// exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// KeepAliveTimeout is the maximum idle time before a connection is
	// closed for a keepalive timeout, per the wire protocol's 120s rule.
	KeepAliveTimeout time.Duration `yaml:"keepalive_timeout"`

	// BitfieldGracePeriod bounds how long a connection may sit in the
	// Bitfield state without receiving a BITFIELD or HAVE message before
	// being promoted to Established anyway.
	BitfieldGracePeriod time.Duration `yaml:"bitfield_grace_period"`

	// PipelineDepth is the maximum number of outstanding REQUESTs a
	// connection may have in flight at once.
	PipelineDepth int `yaml:"pipeline_depth"`

	// SenderBufferSize is the size of the outbound message channel.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize is the size of the inbound message channel.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`

	Bandwidth bandwidth.Config `yaml:"bandwidth"`
}

func (c Config) applyDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 120 * time.Second
	}
	if c.BitfieldGracePeriod == 0 {
		c.BitfieldGracePeriod = 10 * time.Second
	}
	if c.PipelineDepth == 0 {
		c.PipelineDepth = 200
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 10000
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 10000
	}
	if c.Bandwidth.EgressBitsPerSec == 0 {
		c.Bandwidth.EgressBitsPerSec = 200 * 8 * memsize.Mbit
	}
	if c.Bandwidth.IngressBitsPerSec == 0 {
		c.Bandwidth.IngressBitsPerSec = 300 * 8 * memsize.Mbit
	}
	return c
}
