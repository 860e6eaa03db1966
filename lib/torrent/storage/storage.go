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

// Package storage persists verified piece data to disk, routed through
// catalog.PieceCatalog's file map so a multi-file torrent's pieces land in
// the right files at the right offsets.
package storage

import "context"

// Storage persists and retrieves whole pieces of torrent data.
type Storage interface {
	WritePiece(index int, data []byte) error
	ReadPiece(index int) ([]byte, error)
	TotalSize() (int64, error)
	RecheckAll(ctx context.Context) (<-chan RecheckResult, error)
}

// RecheckResult reports the outcome of rehashing a single piece against
// its expected digest during RecheckAll.
type RecheckResult struct {
	Index int
	Valid bool
	Err   error
}
