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

// Package memsize provides byte / bit size constants and human-readable
// formatting, used throughout the torrent engine for configuring buffer
// sizes and bandwidth limits.
package memsize

import "fmt"

// Byte size units.
const (
	B  uint64 = 1
	KB        = B << 10
	MB        = KB << 10
	GB        = MB << 10
	TB        = GB << 10
)

// Bit size units.
const (
	bit  uint64 = 1
	Kbit        = bit << 10
	Mbit        = Kbit << 10
	Gbit        = Mbit << 10
	Tbit        = Gbit << 10
)

// Format renders n bytes as a human-readable string.
func Format(n uint64) string {
	return format(n, TB, GB, MB, KB, "TB", "GB", "MB", "KB", "B")
}

// BitFormat renders n bits as a human-readable string.
func BitFormat(n uint64) string {
	return format(n, Tbit, Gbit, Mbit, Kbit, "Tbit", "Gbit", "Mbit", "Kbit", "bit")
}

func format(n, t, g, m, k uint64, tUnit, gUnit, mUnit, kUnit, baseUnit string) string {
	switch {
	case n >= t:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(t), tUnit)
	case n >= g:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(g), gUnit)
	case n >= m:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(m), mUnit)
	case n >= k:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(k), kUnit)
	case n == 0:
		return fmt.Sprintf("0%s", baseUnit)
	default:
		return fmt.Sprintf("%.2f%s", float64(n), baseUnit)
	}
}
