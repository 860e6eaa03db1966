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
package core

import (
	"bytes"

	"github.com/uber/torrentd/utils/randutil"
)

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// PeerInfoFixture returns a randomly generated PeerInfo.
func PeerInfoFixture() *PeerInfo {
	return NewPeerInfo(PeerIDFixture(), randutil.IP(), randutil.Port(), false, false)
}

// OriginPeerInfoFixture returns a randomly generated PeerInfo for an origin
// peer which already holds the full torrent.
func OriginPeerInfoFixture() *PeerInfo {
	return NewPeerInfo(PeerIDFixture(), randutil.IP(), randutil.Port(), true, true)
}

// PeerContextFixture returns a randomly generated PeerContext.
func PeerContextFixture() PeerContext {
	pctx, err := NewPeerContext(
		RandomPeerIDFactory,
		"zone1",
		"test01-zone1",
		randutil.IP(),
		randutil.Port(),
		false)
	if err != nil {
		panic(err)
	}
	return pctx
}

// OriginContextFixture returns a randomly generated origin PeerContext.
func OriginContextFixture() PeerContext {
	octx := PeerContextFixture()
	octx.Origin = true
	return octx
}

// DigestFixture returns a random Digest.
func DigestFixture() Digest {
	return NewDigestFromBytes(randutil.Blob(20))
}

// SizedMetaInfoFixture builds a MetaInfo around size bytes of random
// content, split into pieces of pieceLength bytes. Returns the MetaInfo
// alongside the content it describes, so callers can exercise Storage
// writes/reads and piece verification end to end.
func SizedMetaInfoFixture(size, pieceLength int64) (*MetaInfo, []byte) {
	content := randutil.Text(uint64(size))
	mi, err := NewMetaInfo(randutil.Hex(8), bytes.NewReader(content), pieceLength)
	if err != nil {
		panic(err)
	}
	return mi, content
}

// MetaInfoFixture returns a randomly generated single-file MetaInfo of
// modest size, along with the content it describes.
func MetaInfoFixture() (*MetaInfo, []byte) {
	return SizedMetaInfoFixture(256, 16)
}

// InfoHashFixture returns a randomly generated InfoHash.
func InfoHashFixture() InfoHash {
	mi, _ := MetaInfoFixture()
	return mi.InfoHash()
}

// MultiFileMetaInfoFixture builds a multi-file MetaInfo directly from an
// Info with Files set, without backing content, for tests that only need
// piece geometry and a file map (not actual byte verification).
func MultiFileMetaInfoFixture(pieceLength int64, files []FileEntry) *MetaInfo {
	var total int64
	for _, f := range files {
		total += f.Length
	}
	numPieces := NumBlocks(total, int(pieceLength))
	if numPieces == 0 {
		numPieces = 1
	}
	pieces := make([]byte, 0, numPieces*20)
	for i := 0; i < numPieces; i++ {
		pieces = append(pieces, randutil.Blob(20)...)
	}
	info := Info{
		PieceLength: pieceLength,
		Pieces:      string(pieces),
		Name:        randutil.Hex(8),
		Files:       files,
	}
	mi, err := NewMetaInfoFromInfo(info, "")
	if err != nil {
		panic(err)
	}
	return mi
}
