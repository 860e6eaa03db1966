package scheduler

import (
	"testing"
	"time"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/activepiece"
	"github.com/uber/torrentd/lib/torrent/bitfield"
	"github.com/uber/torrentd/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	numPieces   int
	pieceLength int64
}

func (c fakeCatalog) NumPieces() int         { return c.numPieces }
func (c fakeCatalog) PieceLength(i int) int64 { return c.pieceLength }

type fakePeer struct {
	peerID          core.PeerID
	choking         bool
	requestsPending int
	bitfield        *bitfield.BitField
}

func (p *fakePeer) PeerID() core.PeerID            { return p.peerID }
func (p *fakePeer) PeerChoking() bool              { return p.choking }
func (p *fakePeer) RequestsPending() int           { return p.requestsPending }
func (p *fakePeer) PeerBitfield() *bitfield.BitField { return p.bitfield }

func allPieces(n int) *bitfield.BitField {
	bf := bitfield.New(n)
	for i := 0; i < n; i++ {
		bf.Set(i)
	}
	return bf
}

func TestScheduleSkipsWhenChoking(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{choking: true, bitfield: allPieces(4)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 4, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(4)

	out := Schedule(peer, m, verified, 4, nil, Config{}, time.Now())
	require.Empty(out)
}

func TestScheduleSkipsWhenPipelineFull(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{requestsPending: 2, bitfield: allPieces(4)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 4, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(4)

	out := Schedule(peer, m, verified, 4, nil, Config{PipelineDepth: 2}, time.Now())
	require.Empty(out)
}

func TestScheduleRequestsAscendingMissingPieces(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{bitfield: allPieces(2)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 2, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(2)

	out := Schedule(peer, m, verified, 2, nil, Config{PipelineDepth: 200}, time.Now())

	// Each piece of length 32 split into blocks of 16 yields 2 blocks; 2
	// pieces yields 4 total block requests, piece 0 before piece 1.
	require.Len(out, 4)
	require.Equal(0, out[0].PieceIndex)
	require.Equal(0, out[1].PieceIndex)
	require.Equal(1, out[2].PieceIndex)
	require.Equal(1, out[3].PieceIndex)

	require.True(m.Get(0).IsBlockRequested(0, 0, time.Now()))
	require.True(m.Get(0).IsBlockRequested(1, 0, time.Now()))
}

func TestScheduleSkipsPiecesNotInPeerBitfield(t *testing.T) {
	require := require.New(t)

	bf := bitfield.New(2)
	bf.Set(1) // peer only has piece 1
	peer := &fakePeer{bitfield: bf}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 2, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(2)

	out := Schedule(peer, m, verified, 2, nil, Config{PipelineDepth: 200}, time.Now())
	require.Len(out, 2)
	for _, addr := range out {
		require.Equal(1, addr.PieceIndex)
	}
}

func TestScheduleSkipsVerifiedPieces(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{bitfield: allPieces(2)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 2, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(2)
	verified.MarkVerified(0)

	out := Schedule(peer, m, verified, 2, nil, Config{PipelineDepth: 200}, time.Now())
	for _, addr := range out {
		require.Equal(1, addr.PieceIndex)
	}
}

func TestScheduleRespectsBudget(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{bitfield: allPieces(2)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 2, pieceLength: 32}, 16, clock.New())
	verified := bitfield.NewVerified(2)

	out := Schedule(peer, m, verified, 2, nil, Config{PipelineDepth: 3}, time.Now())
	require.Len(out, 3)
}

func TestScheduleEndgameReissuesStalledBlocks(t *testing.T) {
	require := require.New(t)

	cat := fakeCatalog{numPieces: 1, pieceLength: 16}
	m := activepiece.NewManager(activepiece.Config{}, cat, 16, clock.New())
	verified := bitfield.NewVerified(1)

	firstPeer := &fakePeer{peerID: core.PeerIDFixture(), bitfield: allPieces(1)}
	out := Schedule(firstPeer, m, verified, 1, nil, Config{PipelineDepth: 10}, time.Now())
	require.Len(out, 1)

	// A second peer with the same piece, and no fresh blocks left to
	// reserve, should pick up an endgame re-request of the same block.
	secondPeer := &fakePeer{peerID: core.PeerIDFixture(), bitfield: allPieces(1)}
	out = Schedule(secondPeer, m, verified, 1, nil, Config{PipelineDepth: 10, EndgameFanout: 3}, time.Now())
	require.Len(out, 1)
	require.Equal(0, out[0].BlockIndex)
}

func TestScheduleRarestFirstPolicy(t *testing.T) {
	require := require.New(t)

	peer := &fakePeer{bitfield: allPieces(3)}
	m := activepiece.NewManager(activepiece.Config{}, fakeCatalog{numPieces: 3, pieceLength: 16}, 16, clock.New())
	verified := bitfield.NewVerified(3)

	counts := syncutil.NewCounters(3)
	counts.Set(0, 5)
	counts.Set(1, 1)
	counts.Set(2, 3)

	out := Schedule(peer, m, verified, 3, &counts, Config{PipelineDepth: 200, Policy: PolicyRarestFirst}, time.Now())
	require.NotEmpty(out)
	require.Equal(1, out[0].PieceIndex)
}
