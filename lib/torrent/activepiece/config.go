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

import "time"

// Config defines Manager policy limits.
type Config struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxActivePieces  int           `yaml:"max_active_pieces"`
	MaxBufferedBytes int64         `yaml:"max_buffered_bytes"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	EndgameFanout    int           `yaml:"endgame_fanout"`
}

func (c Config) applyDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxActivePieces == 0 {
		c.MaxActivePieces = 20
	}
	if c.MaxBufferedBytes == 0 {
		c.MaxBufferedBytes = 16 << 20
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 10 * time.Second
	}
	if c.EndgameFanout == 0 {
		c.EndgameFanout = 3
	}
	return c
}
