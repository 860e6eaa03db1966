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
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/uber/torrentd/core"
	"github.com/uber/torrentd/lib/torrent/catalog"

	"go.uber.org/atomic"
)

// piece tracks the on-disk status of a single piece, guarded by its own
// mutex so readers/writers of unrelated pieces never contend, the same
// granularity the (deleted) agentstorage.Torrent used for its per-piece
// dirty bits.
type piece struct {
	sync.Mutex
	complete bool
}

// FileStorage is a file-backed Storage implementation, writing pieces
// through catalog.PieceCatalog's FileMap so multi-file torrents land each
// piece's bytes across the files it spans.
type FileStorage struct {
	dir     string
	catalog *catalog.PieceCatalog
	spans   []catalog.FileSpan
	files   []*os.File

	pieces      []*piece
	numComplete atomic.Int32
}

// NewFileStorage creates a FileStorage rooted at dir, preallocating every
// file described by cat's FileMap.
func NewFileStorage(dir string, cat *catalog.PieceCatalog) (*FileStorage, error) {
	spans, err := cat.FileMap()
	if err != nil {
		return nil, fmt.Errorf("file map: %s", err)
	}

	files := make([]*os.File, len(spans))
	for i, span := range spans {
		path := filepath.Join(append([]string{dir}, span.Path...)...)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("mkdir for %s: %s", path, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %s", path, err)
		}
		if err := f.Truncate(span.Length); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate %s: %s", path, err)
		}
		files[i] = f
	}

	pieces := make([]*piece, cat.NumPieces())
	for i := range pieces {
		pieces[i] = &piece{}
	}

	return &FileStorage{
		dir:     dir,
		catalog: cat,
		spans:   spans,
		files:   files,
		pieces:  pieces,
	}, nil
}

// Close releases the underlying file handles.
func (s *FileStorage) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WritePiece writes data, the full, verified content of piece index,
// across every file it spans, and marks the piece complete. It is the
// caller's responsibility (dispatch.Torrent, via hash.Hasher) to have
// already verified data against catalog.ExpectedHash before calling.
func (s *FileStorage) WritePiece(index int, data []byte) error {
	if index < 0 || index >= len(s.pieces) {
		return fmt.Errorf("piece index %d out of range", index)
	}
	expected := s.catalog.PieceLength(index)
	if int64(len(data)) != expected {
		return fmt.Errorf("piece %d: expected %d bytes, got %d", index, expected, len(data))
	}

	p := s.pieces[index]
	p.Lock()
	defer p.Unlock()

	offset := int64(index) * s.catalog.MaxPieceLength()
	if err := s.writeRange(offset, data); err != nil {
		return fmt.Errorf("write piece %d: %s", index, err)
	}

	if !p.complete {
		p.complete = true
		s.numComplete.Inc()
	}
	return nil
}

// ReadPiece reads back the bytes of piece index from disk.
func (s *FileStorage) ReadPiece(index int) ([]byte, error) {
	if index < 0 || index >= len(s.pieces) {
		return nil, fmt.Errorf("piece index %d out of range", index)
	}
	length := s.catalog.PieceLength(index)
	offset := int64(index) * s.catalog.MaxPieceLength()

	buf := make([]byte, length)
	if err := s.readRange(offset, buf); err != nil {
		return nil, fmt.Errorf("read piece %d: %s", index, err)
	}
	return buf, nil
}

// TotalSize returns the combined length of every file in the torrent.
func (s *FileStorage) TotalSize() (int64, error) {
	return s.catalog.TotalLength(), nil
}

// NumComplete returns the number of pieces successfully written so far.
func (s *FileStorage) NumComplete() int {
	return int(s.numComplete.Load())
}

// RecheckAll rehashes every piece already on disk against its expected
// digest, streaming one RecheckResult per piece. Used to restore a
// VerifiedBitfield after a crash, or to answer an explicit recheck
// request.
func (s *FileStorage) RecheckAll(ctx context.Context) (<-chan RecheckResult, error) {
	out := make(chan RecheckResult)
	go func() {
		defer close(out)
		digester := core.NewDigester()
		for i := 0; i < len(s.pieces); i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			data, err := s.ReadPiece(i)
			if err != nil {
				select {
				case out <- RecheckResult{Index: i, Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}

			expected, err := s.catalog.ExpectedHash(i)
			if err != nil {
				select {
				case out <- RecheckResult{Index: i, Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}

			got, err := digester.FromReader(bytes.NewReader(data), io.Discard)
			result := RecheckResult{Index: i, Err: err, Valid: err == nil && got == expected}
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// writeRange writes data starting at the global byte offset, splitting
// across whichever files in the FileMap it overlaps.
func (s *FileStorage) writeRange(offset int64, data []byte) error {
	end := offset + int64(len(data))
	for i, span := range s.spans {
		if end <= span.StartOffset || offset >= span.EndOffset {
			continue
		}
		overlapStart := max64(offset, span.StartOffset)
		overlapEnd := min64(end, span.EndOffset)

		src := data[overlapStart-offset : overlapEnd-offset]
		if _, err := s.files[i].WriteAt(src, overlapStart-span.StartOffset); err != nil {
			return err
		}
	}
	return nil
}

// readRange fills buf with the bytes starting at the global byte offset.
func (s *FileStorage) readRange(offset int64, buf []byte) error {
	end := offset + int64(len(buf))
	for i, span := range s.spans {
		if end <= span.StartOffset || offset >= span.EndOffset {
			continue
		}
		overlapStart := max64(offset, span.StartOffset)
		overlapEnd := min64(end, span.EndOffset)

		dst := buf[overlapStart-offset : overlapEnd-offset]
		if _, err := s.files[i].ReadAt(dst, overlapStart-span.StartOffset); err != nil {
			return err
		}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
