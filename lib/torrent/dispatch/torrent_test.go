package dispatch

import (
	"sync"
	"testing"
	"time"

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
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingEvents struct {
	mu         sync.Mutex
	verified   []int
	mismatches []int
	errs       []error
	complete   chan struct{}
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{complete: make(chan struct{})}
}

func (e *recordingEvents) PieceVerified(h core.InfoHash, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verified = append(e.verified, index)
}

func (e *recordingEvents) PieceHashMismatch(h core.InfoHash, index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mismatches = append(e.mismatches, index)
}

func (e *recordingEvents) Complete(h core.InfoHash) {
	close(e.complete)
}

func (e *recordingEvents) Error(h core.InfoHash, kind ErrorKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *recordingEvents) PeerAdded(core.InfoHash, core.PeerID)          {}
func (e *recordingEvents) PeerRemoved(core.InfoHash, core.PeerID, error) {}

func (e *recordingEvents) snapshotVerified() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.verified))
	copy(out, e.verified)
	return out
}

func (e *recordingEvents) snapshotMismatches() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.mismatches))
	copy(out, e.mismatches)
	return out
}

// seedPeer drives the far end of a PipeFixture pair as a cooperative seeder:
// it answers our BITFIELD/UNCHOKE with its own full BITFIELD and UNCHOKE,
// then serves REQUESTs out of serve.
func seedPeer(remote *conn.PeerConnection, numPieces int, serve func(index int, begin int64, length int) []byte) {
	full := bitfield.New(numPieces)
	for i := 0; i < numPieces; i++ {
		full.Set(i)
	}
	go func() {
		for msg := range remote.Receiver() {
			switch msg.ID {
			case conn.Unchoke:
				remote.Send(conn.NewBitfield(full.Bytes()))
				remote.Send(conn.NewUnchoke())
			case conn.Request:
				remote.Send(conn.NewPiece(msg.Index, msg.Begin, serve(msg.Index, msg.Begin, msg.Length)))
			}
		}
	}()
}

func newTestTorrent(t *testing.T, cat *catalog.PieceCatalog, events Events) (*Torrent, func()) {
	store, err := storage.NewFileStorage(t.TempDir(), cat)
	require.NoError(t, err)

	tor := New(
		Config{DisableBlacklist: true, CleanupInterval: 50 * time.Millisecond},
		scheduler.Config{},
		activepiece.Config{},
		core.PeerIDFixture(),
		cat,
		store,
		hash.NewLocal(),
		clock.New(),
		tally.NewTestScope("", nil),
		zap.NewNop().Sugar(),
		events,
	)
	return tor, func() {
		tor.Close()
		store.Close()
	}
}

func TestTorrentSinglePieceSinglePeerHappyPath(t *testing.T) {
	require := require.New(t)

	mi, content := core.SizedMetaInfoFixture(16, 16)
	cat := catalog.New(mi)

	events := newRecordingEvents()
	tor, cleanup := newTestTorrent(t, cat, events)
	defer cleanup()

	local, remote, cleanupPipe := conn.PipeFixture(conn.ConfigFixture(), cat.InfoHash())
	defer cleanupPipe()

	seedPeer(remote, cat.NumPieces(), func(index int, begin int64, length int) []byte {
		return content[begin : begin+int64(length)]
	})

	require.NoError(tor.AddPeer(local, nil))

	select {
	case <-events.complete:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for torrent to complete")
	}

	require.Equal([]int{0}, events.snapshotVerified())
	require.True(tor.Complete())
}

func TestTorrentHashMismatchDiscardsPiece(t *testing.T) {
	require := require.New(t)

	mi, _ := core.SizedMetaInfoFixture(16, 16)
	cat := catalog.New(mi)

	events := newRecordingEvents()
	tor, cleanup := newTestTorrent(t, cat, events)
	defer cleanup()

	local, remote, cleanupPipe := conn.PipeFixture(conn.ConfigFixture(), cat.InfoHash())
	defer cleanupPipe()

	seedPeer(remote, cat.NumPieces(), func(index int, begin int64, length int) []byte {
		// Serve corrupt data so the SHA1 check fails.
		return make([]byte, length)
	})

	require.NoError(tor.AddPeer(local, nil))

	require.Eventually(func() bool {
		return len(events.snapshotMismatches()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.False(tor.Complete())
}

func TestTorrentAddPeerRejectsAtCapacity(t *testing.T) {
	require := require.New(t)

	mi, _ := core.SizedMetaInfoFixture(16, 16)
	cat := catalog.New(mi)

	events := newRecordingEvents()
	store, err := storage.NewFileStorage(t.TempDir(), cat)
	require.NoError(err)
	defer store.Close()

	tor := New(
		Config{MaxPeers: 1, DisableBlacklist: true},
		scheduler.Config{},
		activepiece.Config{},
		core.PeerIDFixture(),
		cat,
		store,
		hash.NewLocal(),
		clock.New(),
		tally.NewTestScope("", nil),
		zap.NewNop().Sugar(),
		events,
	)
	defer tor.Close()

	local1, remote1, cleanup1 := conn.PipeFixture(conn.ConfigFixture(), cat.InfoHash())
	defer cleanup1()
	local2, remote2, cleanup2 := conn.PipeFixture(conn.ConfigFixture(), cat.InfoHash())
	defer cleanup2()
	_ = remote1
	_ = remote2

	require.NoError(tor.AddPeer(local1, nil))
	require.Eventually(func() bool { return tor.NumPeers() == 1 }, time.Second, 10*time.Millisecond)
	require.Error(tor.AddPeer(local2, nil))
}

func TestTorrentPeerClosedRemovesPeer(t *testing.T) {
	require := require.New(t)

	mi, _ := core.SizedMetaInfoFixture(32, 16)
	cat := catalog.New(mi)

	events := newRecordingEvents()
	tor, cleanup := newTestTorrent(t, cat, events)
	defer cleanup()

	local, remote, cleanupPipe := conn.PipeFixture(conn.ConfigFixture(), cat.InfoHash())
	_ = cleanupPipe

	seedPeer(remote, cat.NumPieces(), func(index int, begin int64, length int) []byte {
		return make([]byte, length)
	})

	require.NoError(tor.AddPeer(local, nil))
	require.Eventually(func() bool { return tor.NumPeers() == 1 }, time.Second, 10*time.Millisecond)

	local.Close(conn.ErrClosedLocally)

	require.Eventually(func() bool { return tor.NumPeers() == 0 }, time.Second, 10*time.Millisecond)
}
