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

// Package randutil provides random value generators used throughout tests
// and fixtures.
package randutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"time"
)

// Text returns n random printable ASCII bytes.
func Text(n uint64) []byte {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[mrand.Intn(len(chars))]
	}
	return b
}

// Blob returns n random bytes, drawn from the full byte range.
func Blob(n uint64) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %s", err))
	}
	return b
}

// Hex returns a random hex string of 2*n characters, encoding n random bytes.
func Hex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %s", err))
	}
	return hex.EncodeToString(b)
}

// IP returns a random IPv4 address in dotted-quad form.
func IP() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		mrand.Intn(256), mrand.Intn(256), mrand.Intn(256), mrand.Intn(256))
}

// Port returns a random TCP port in the ephemeral range.
func Port() int {
	return 1024 + mrand.Intn(65535-1024)
}

// Addr returns a random "ip:port" address.
func Addr() string {
	return fmt.Sprintf("%s:%d", IP(), Port())
}

// Duration returns a random duration in [0, max).
func Duration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(mrand.Int63n(int64(max)))
}

// Uint64 returns a random uint64.
func Uint64() uint64 {
	return mrand.Uint64()
}

// Int63n returns a random int64 in [0, n).
func Int63n(n int64) int64 {
	return mrand.Int63n(n)
}

// ShuffleInt64s shuffles xs in place.
func ShuffleInt64s(xs []int64) {
	mrand.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
}
