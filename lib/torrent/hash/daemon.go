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
package hash

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"github.com/uber/torrentd/core"

	digest "github.com/opencontainers/go-digest"
)

// ErrDaemonClosed is returned by SHA1 once the Daemon has been closed.
var ErrDaemonClosed = errors.New("hash daemon closed")

type job struct {
	data   []byte
	result chan jobResult
}

type jobResult struct {
	digest core.Digest
	err    error
}

// Daemon offloads SHA1 computation to a fixed pool of worker goroutines,
// standing in for an out-of-process hashing daemon a real deployment might
// run to keep the event loop free of CPU-bound hashing work. It satisfies
// the same Hasher interface as Local, so a Torrent is indifferent to which
// is wired in.
type Daemon struct {
	jobs chan job
	wg   sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDaemon starts a Daemon with the given number of worker goroutines.
func NewDaemon(workers int) *Daemon {
	if workers <= 0 {
		workers = 1
	}
	d := &Daemon{
		jobs:   make(chan job),
		closed: make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *Daemon) work() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			sum := sha1.Sum(j.data)
			j.result <- jobResult{digest: core.NewDigestFromBytes(sum[:])}
		case <-d.closed:
			return
		}
	}
}

// SHA1 submits data to the worker pool and blocks until a worker computes
// its digest.
func (d *Daemon) SHA1(data []byte) (core.Digest, error) {
	j := job{data: data, result: make(chan jobResult, 1)}
	select {
	case d.jobs <- j:
	case <-d.closed:
		return core.Digest{}, ErrDaemonClosed
	}
	select {
	case r := <-j.result:
		return r.digest, r.err
	case <-d.closed:
		return core.Digest{}, ErrDaemonClosed
	}
}

// Close stops every worker goroutine. Outstanding and future SHA1 calls
// return ErrDaemonClosed.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
}

// sha1Algorithm is the OCI-style algorithm prefix used on the wire. SHA1 is
// not one of go-digest's canonical, registered algorithms (it only
// verifies lengths for algorithms it knows), but its Digest type is still
// a convenient, well-understood "algorithm:hex" wire encoding, so it is
// constructed directly rather than through the validating Parse path.
const sha1Algorithm = digest.Algorithm("sha1")

// WireDigest renders d in OCI-style "algorithm:hex" form, the format used
// when exchanging digests with a remote hashing daemon over the wire.
func WireDigest(d core.Digest) digest.Digest {
	return digest.NewDigestFromEncoded(sha1Algorithm, d.Hex())
}

// ParseWireDigest parses a digest produced by WireDigest back into a
// core.Digest.
func ParseWireDigest(s string) (core.Digest, error) {
	d := digest.Digest(s)
	if d.Algorithm() != sha1Algorithm {
		return core.Digest{}, fmt.Errorf("unexpected digest algorithm: %s", d.Algorithm())
	}
	return core.NewDigestFromHex(d.Encoded())
}
