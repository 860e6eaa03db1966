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
package activepiece

import (
	"sort"
	"time"

	"github.com/uber/torrentd/core"

	"github.com/andres-erbsen/clock"
)

// Catalog is the narrow slice of catalog.PieceCatalog the Manager needs to
// size new pieces: their length and count.
type Catalog interface {
	NumPieces() int
	PieceLength(i int) int64
}

// Manager owns every ActivePiece for a single Torrent, enforcing capacity
// limits and running the periodic timeout/stale sweep. Like ActivePiece
// itself, Manager keeps no internal lock: the Torrent event loop serializes
// every call.
type Manager struct {
	config    Config
	catalog   Catalog
	blockSize int
	clk       clock.Clock

	pieces map[int]*ActivePiece
}

// NewManager creates a Manager for the given catalog, with blocks of
// blockSize bytes (the protocol's fixed block size, 16 KiB in BEP 3).
func NewManager(config Config, catalog Catalog, blockSize int, clk clock.Clock) *Manager {
	return &Manager{
		config:    config.applyDefaults(),
		catalog:   catalog,
		blockSize: blockSize,
		clk:       clk,
		pieces:    make(map[int]*ActivePiece),
	}
}

// GetOrCreate returns the existing ActivePiece for index, or creates one if
// the catalog knows about index and doing so would not exceed the
// configured capacity. Returns nil if capacity is exhausted, even after a
// stale sweep.
func (m *Manager) GetOrCreate(index int) *ActivePiece {
	if ap, ok := m.pieces[index]; ok {
		return ap
	}
	if index < 0 || index >= m.catalog.NumPieces() {
		return nil
	}

	if len(m.pieces) >= m.config.MaxActivePieces {
		m.StaleSweep()
		if len(m.pieces) >= m.config.MaxActivePieces {
			return nil
		}
	}

	length := m.catalog.PieceLength(index)
	expectedFirstBlock := int64(m.blockSize)
	if length < expectedFirstBlock {
		expectedFirstBlock = length
	}
	if m.TotalBufferedBytes()+expectedFirstBlock > m.config.MaxBufferedBytes {
		return nil
	}

	ap := New(index, length, m.blockSize)
	ap.lastActivity = m.clk.Now()
	m.pieces[index] = ap
	return ap
}

// Get returns the existing ActivePiece for index without creating one.
func (m *Manager) Get(index int) *ActivePiece {
	return m.pieces[index]
}

// Remove destroys the ActivePiece for index, releasing its buffered data.
func (m *Manager) Remove(index int) {
	delete(m.pieces, index)
}

// ClearRequestsForPeer fans out to every active piece and returns the total
// number of requests cleared.
func (m *Manager) ClearRequestsForPeer(peerID core.PeerID) int {
	total := 0
	for _, ap := range m.pieces {
		total += ap.ClearRequestsForPeer(peerID)
	}
	return total
}

// CheckTimeouts sweeps every active piece for expired requests and returns
// the total number cleared.
func (m *Manager) CheckTimeouts() int {
	total := 0
	now := m.clk.Now()
	for _, ap := range m.pieces {
		total += ap.CheckTimeouts(m.config.RequestTimeout, now)
	}
	return total
}

// StaleSweep removes pieces whose last activity is older than twice the
// request timeout and which have received zero blocks, freeing capacity
// for GetOrCreate.
func (m *Manager) StaleSweep() {
	staleBefore := m.clk.Now().Add(-2 * m.config.RequestTimeout)
	for index, ap := range m.pieces {
		if len(ap.blockData) == 0 && ap.LastActivity().Before(staleBefore) {
			delete(m.pieces, index)
		}
	}
}

// TotalBufferedBytes returns the sum of buffered bytes across every active
// piece.
func (m *Manager) TotalBufferedBytes() int64 {
	var total int64
	for _, ap := range m.pieces {
		total += ap.BufferedBytes()
	}
	return total
}

// ActiveIndices returns the indices of every active piece, in ascending
// order.
func (m *Manager) ActiveIndices() []int {
	indices := make([]int, 0, len(m.pieces))
	for index := range m.pieces {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// ActiveCount returns the number of active pieces.
func (m *Manager) ActiveCount() int {
	return len(m.pieces)
}

// Destroy drops every active piece. The Manager holds no background
// goroutine of its own — CheckTimeouts/StaleSweep are driven by the
// Torrent's event loop on its CleanupInterval — so Destroy only needs to
// release state.
func (m *Manager) Destroy() {
	m.pieces = make(map[int]*ActivePiece)
}

// CleanupInterval returns the configured period between timeout/stale
// sweeps, used by the Torrent event loop to schedule CheckTimeouts.
func (m *Manager) CleanupInterval() time.Duration {
	return m.config.CleanupInterval
}

// EndgameFanout returns the configured maximum number of distinct peers
// that may concurrently be assigned the same block in endgame mode.
func (m *Manager) EndgameFanout() int {
	return m.config.EndgameFanout
}
