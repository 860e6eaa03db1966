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
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// FileEntry describes one file within a multi-file torrent, per BEP 3's
// "files" list.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the bencoded "info" dictionary of a .torrent file. Its bencoded
// form, SHA1-hashed, is the torrent's InfoHash.
type Info struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`

	// Length is set for single-file torrents; Files is set for multi-file
	// torrents. Exactly one of the two is populated.
	Length int64       `bencode:"length,omitempty"`
	Files  []FileEntry `bencode:"files,omitempty"`
}

// IsMultiFile reports whether info describes a multi-file torrent.
func (info *Info) IsMultiFile() bool {
	return len(info.Files) > 0
}

// TotalLength returns the combined length of all files described by info.
func (info *Info) TotalLength() int64 {
	if !info.IsMultiFile() {
		return info.Length
	}
	var total int64
	for _, f := range info.Files {
		total += f.Length
	}
	return total
}

// NumPieces returns the number of pieces implied by info's piece hash
// string, which packs 20 raw bytes per piece.
func (info *Info) NumPieces() int {
	return len(info.Pieces) / sha1.Size
}

// PieceHash returns the expected Digest of piece i.
func (info *Info) PieceHash(i int) (Digest, error) {
	if i < 0 || i >= info.NumPieces() {
		return Digest{}, fmt.Errorf("piece index %d out of range [0, %d)", i, info.NumPieces())
	}
	start := i * sha1.Size
	return NewDigestFromBytes([]byte(info.Pieces[start : start+sha1.Size])), nil
}

// PieceLengthAt returns the length of piece i, accounting for the final,
// possibly-short piece.
func (info *Info) PieceLengthAt(i int) int64 {
	if i < info.NumPieces()-1 {
		return info.PieceLength
	}
	total := info.TotalLength()
	last := total - int64(info.NumPieces()-1)*info.PieceLength
	if last <= 0 {
		return info.PieceLength
	}
	return last
}

// MetaInfo is the full contents of a parsed .torrent file: the info
// dictionary plus the tracker and metadata fields surrounding it.
type MetaInfo struct {
	Info         Info     `bencode:"info"`
	Announce     string   `bencode:"announce,omitempty"`
	AnnounceList [][]string `bencode:"announce-list,omitempty"`
	CreatedBy    string   `bencode:"created by,omitempty"`
	CreationDate int64    `bencode:"creation date,omitempty"`
	Comment      string   `bencode:"comment,omitempty"`

	infoHash InfoHash
}

// NewMetaInfoFromInfo builds a MetaInfo around a pre-built Info dict,
// computing its InfoHash.
func NewMetaInfoFromInfo(info Info, announce string) (*MetaInfo, error) {
	mi := &MetaInfo{Info: info, Announce: announce}
	h, err := hashInfo(info)
	if err != nil {
		return nil, err
	}
	mi.infoHash = h
	return mi, nil
}

// NewMetaInfo builds a single-file MetaInfo by reading r to completion and
// splitting it into pieces of pieceLength bytes.
func NewMetaInfo(name string, r io.Reader, pieceLength int64) (*MetaInfo, error) {
	if pieceLength <= 0 {
		return nil, errors.New("piece length must be positive")
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %s", err)
	}
	var pieces bytes.Buffer
	for off := int64(0); off < int64(len(content)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		sum := sha1.Sum(content[off:end])
		pieces.Write(sum[:])
	}
	if len(content) == 0 {
		// A zero-length torrent still has a single empty piece hash.
		sum := sha1.Sum(nil)
		pieces.Write(sum[:])
	}
	info := Info{
		PieceLength: pieceLength,
		Pieces:      pieces.String(),
		Name:        name,
		Length:      int64(len(content)),
	}
	return NewMetaInfoFromInfo(info, "")
}

// Deserialize parses a bencoded .torrent file from r.
func Deserialize(r io.Reader) (*MetaInfo, error) {
	var raw bytes.Buffer
	tee := io.TeeReader(r, &raw)

	var mi MetaInfo
	if err := bencode.Unmarshal(tee, &mi); err != nil {
		return nil, fmt.Errorf("bencode unmarshal: %s", err)
	}
	h, err := hashInfo(mi.Info)
	if err != nil {
		return nil, err
	}
	mi.infoHash = h
	return &mi, nil
}

// Serialize bencodes mi to w in canonical .torrent form.
func (mi *MetaInfo) Serialize(w io.Writer) error {
	return bencode.Marshal(w, *mi)
}

// InfoHash returns the torrent's authoritative identifier: the SHA1 hash
// of the bencoded info dictionary.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

func hashInfo(info Info) (InfoHash, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, info); err != nil {
		return InfoHash{}, fmt.Errorf("bencode marshal info: %s", err)
	}
	return NewInfoHashFromBytes(buf.Bytes()), nil
}
