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

// Package catalog exposes the immutable piece/file geometry of a torrent,
// derived once from parsed metainfo. It plays the role kraken's
// storage.TorrentInfo played for a single Docker blob, generalized to BEP 3
// multi-file layouts.
package catalog

import (
	"errors"
	"fmt"

	"github.com/uber/torrentd/core"
)

// ErrMetaNotHydrated is returned by ExpectedHash and FileMap on a
// PieceCatalog opened from a magnet link whose metadata has not yet been
// fetched. The other geometry accessors return zero values in that state.
var ErrMetaNotHydrated = errors.New("torrent metadata not yet hydrated")

// FileSpan describes one file's placement within the flat piece/byte space
// shared by every piece of a (possibly multi-file) torrent.
type FileSpan struct {
	Path        []string
	Length      int64
	StartOffset int64 // inclusive, offset from the start of piece 0
	EndOffset   int64 // exclusive
}

// PieceCatalog holds the immutable geometry of a torrent: how many pieces
// it has, how long each one is, its expected hash, and how pieces map onto
// files on disk. A PieceCatalog opened from a magnet URI starts unhydrated
// (InfoHash known, nothing else) until metadata arrives over the wire, at
// which point Hydrate fills in the rest.
type PieceCatalog struct {
	infoHash core.InfoHash
	info     *core.Info
}

// New builds a PieceCatalog from fully parsed metainfo.
func New(mi *core.MetaInfo) *PieceCatalog {
	info := mi.Info
	return &PieceCatalog{infoHash: mi.InfoHash(), info: &info}
}

// NewFromMagnet builds an unhydrated PieceCatalog known only by its
// InfoHash, resolved per BEP 9 once a peer sends us the metadata. See the
// Open Question resolution in the design notes: magnet support is scoped
// to carrying the InfoHash through the pipeline so a Torrent can be
// constructed and queued before metadata arrives. Until Hydrate is called,
// ExpectedHash and FileMap return ErrMetaNotHydrated and NumPieces,
// PieceLength, MaxPieceLength, TotalLength and Name return zero values.
func NewFromMagnet(infoHash core.InfoHash) *PieceCatalog {
	return &PieceCatalog{infoHash: infoHash}
}

// Hydrate fills in a magnet-originated PieceCatalog's geometry once the
// full metainfo has been fetched from a peer. Returns an error if info's
// hash does not match the InfoHash the catalog was constructed with.
func (c *PieceCatalog) Hydrate(info core.Info) error {
	h, err := core.NewMetaInfoFromInfo(info, "")
	if err != nil {
		return fmt.Errorf("hash fetched metadata: %s", err)
	}
	if h.InfoHash() != c.infoHash {
		return fmt.Errorf("fetched metadata hash %s does not match expected info hash %s",
			h.InfoHash(), c.infoHash)
	}
	c.info = &info
	return nil
}

// Hydrated reports whether geometry is available yet.
func (c *PieceCatalog) Hydrated() bool {
	return c.info != nil
}

// InfoHash returns the torrent's InfoHash, available even before Hydrate.
func (c *PieceCatalog) InfoHash() core.InfoHash {
	return c.infoHash
}

// NumPieces returns the total piece count.
func (c *PieceCatalog) NumPieces() int {
	if c.info == nil {
		return 0
	}
	return c.info.NumPieces()
}

// PieceLength returns the length in bytes of piece i, accounting for a
// possibly-short final piece.
func (c *PieceCatalog) PieceLength(i int) int64 {
	if c.info == nil {
		return 0
	}
	return c.info.PieceLengthAt(i)
}

// MaxPieceLength returns the uniform piece length every piece but the last
// is cut to.
func (c *PieceCatalog) MaxPieceLength() int64 {
	if c.info == nil {
		return 0
	}
	return c.info.PieceLength
}

// TotalLength returns the combined length of every file in the torrent.
func (c *PieceCatalog) TotalLength() int64 {
	if c.info == nil {
		return 0
	}
	return c.info.TotalLength()
}

// ExpectedHash returns the expected SHA1 digest of piece i.
func (c *PieceCatalog) ExpectedHash(i int) (core.Digest, error) {
	if c.info == nil {
		return core.Digest{}, ErrMetaNotHydrated
	}
	return c.info.PieceHash(i)
}

// Name returns the torrent's suggested name (single file name, or
// directory name for multi-file torrents).
func (c *PieceCatalog) Name() string {
	if c.info == nil {
		return ""
	}
	return c.info.Name
}

// FileMap returns the byte-range placement of every file within the flat
// piece/byte space, in the order they appear in the metainfo.
func (c *PieceCatalog) FileMap() ([]FileSpan, error) {
	if c.info == nil {
		return nil, ErrMetaNotHydrated
	}
	if !c.info.IsMultiFile() {
		return []FileSpan{{
			Path:        []string{c.info.Name},
			Length:      c.info.Length,
			StartOffset: 0,
			EndOffset:   c.info.Length,
		}}, nil
	}
	spans := make([]FileSpan, 0, len(c.info.Files))
	var offset int64
	for _, f := range c.info.Files {
		spans = append(spans, FileSpan{
			Path:        f.Path,
			Length:      f.Length,
			StartOffset: offset,
			EndOffset:   offset + f.Length,
		})
		offset += f.Length
	}
	return spans, nil
}
