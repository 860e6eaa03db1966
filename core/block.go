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

import "fmt"

// BlockAddress identifies a single block within a piece: its offset into
// the piece, and its length. It is the unit the RequestScheduler reserves
// and the unit a REQUEST/PIECE message transfers.
type BlockAddress struct {
	PieceIndex int
	BlockIndex int
	Begin      int64
	Length     int
}

// End returns the byte offset immediately following the block, relative to
// the start of the piece.
func (b BlockAddress) End() int64 {
	return b.Begin + int64(b.Length)
}

func (b BlockAddress) String() string {
	return fmt.Sprintf("block(piece=%d, index=%d, begin=%d, length=%d)",
		b.PieceIndex, b.BlockIndex, b.Begin, b.Length)
}

// NumBlocks returns the number of blocks of size blockSize needed to cover
// pieceLength bytes, with the final block possibly short.
func NumBlocks(pieceLength int64, blockSize int) int {
	if blockSize <= 0 {
		return 0
	}
	n := pieceLength / int64(blockSize)
	if pieceLength%int64(blockSize) != 0 {
		n++
	}
	return int(n)
}

// BlockAddressesForPiece returns the full set of BlockAddresses covering a
// piece of the given length, split into blocks of at most blockSize bytes.
func BlockAddressesForPiece(pieceIndex int, pieceLength int64, blockSize int) []BlockAddress {
	n := NumBlocks(pieceLength, blockSize)
	blocks := make([]BlockAddress, 0, n)
	for i := 0; i < n; i++ {
		begin := int64(i) * int64(blockSize)
		length := blockSize
		if remaining := pieceLength - begin; remaining < int64(blockSize) {
			length = int(remaining)
		}
		blocks = append(blocks, BlockAddress{
			PieceIndex: pieceIndex,
			BlockIndex: i,
			Begin:      begin,
			Length:     length,
		})
	}
	return blocks
}
