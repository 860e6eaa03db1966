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

// Package bandwidth provides a token-bucket ingress / egress limiter used by
// PeerConnection to throttle piece payload reads and writes.
package bandwidth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config defines Limiter configuration. Rates are expressed in bits per
// second so they can be compared directly against link speeds; TokenSize
// controls the granularity (in bits) of a single token in the bucket.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`
	TokenSize         uint64 `yaml:"token_size"`
	Enable            bool   `yaml:"enable"`
}

func (c Config) applyDefaults() Config {
	if c.TokenSize == 0 {
		c.TokenSize = 1
	}
	return c
}

// Option configures optional Limiter behavior.
type Option func(*Limiter)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter enforces ingress / egress bandwidth caps using token buckets. When
// disabled, all reservations are no-ops.
type Limiter struct {
	mu     sync.Mutex
	config Config
	logger *zap.SugaredLogger

	egress  *rate.Limiter
	ingress *rate.Limiter

	egressBitsPerSec  int64
	ingressBitsPerSec int64
}

// NewLimiter creates a new Limiter. If config.Enable is false, the returned
// Limiter never blocks reservations.
func NewLimiter(config Config, opts ...Option) (*Limiter, error) {
	config = config.applyDefaults()

	l := &Limiter{
		config: config,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if !config.Enable {
		return l, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("egress_bits_per_sec must be non-zero when enabled")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("ingress_bits_per_sec must be non-zero when enabled")
	}

	l.egressBitsPerSec = int64(config.EgressBitsPerSec)
	l.ingressBitsPerSec = int64(config.IngressBitsPerSec)
	l.egress = newTokenBucket(config.EgressBitsPerSec, config.TokenSize)
	l.ingress = newTokenBucket(config.IngressBitsPerSec, config.TokenSize)

	return l, nil
}

func newTokenBucket(bitsPerSec, tokenSize uint64) *rate.Limiter {
	tokensPerSec := float64(bitsPerSec) / float64(tokenSize)
	burst := int(tokensPerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(tokensPerSec), burst)
}

func (l *Limiter) tokensFor(nbytes int64) int {
	bits := uint64(nbytes) * 8
	tokens := bits / l.config.TokenSize
	if tokens < 1 {
		tokens = 1
	}
	return int(tokens)
}

// ReserveEgress blocks until nbytes worth of egress bandwidth is available.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes, "egress")
}

// ReserveIngress blocks until nbytes worth of ingress bandwidth is available.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes, "ingress")
}

func (l *Limiter) reserve(limiter *rate.Limiter, nbytes int64, direction string) error {
	if limiter == nil {
		return nil
	}
	n := l.tokensFor(nbytes)
	r := limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		return fmt.Errorf("%d bytes exceeds %s bucket capacity", nbytes, direction)
	}
	time.Sleep(r.Delay())
	return nil
}

// Adjust rescales both limiters to bitsPerSec/denom, used to fairly divide
// bandwidth across multiple concurrent connections. denom must be positive.
func (l *Limiter) Adjust(denom int) error {
	if denom <= 0 {
		return fmt.Errorf("denom must be positive, got %d", denom)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.config.Enable {
		return nil
	}

	l.egressBitsPerSec = divCeil(int64(l.config.EgressBitsPerSec), denom)
	l.ingressBitsPerSec = divCeil(int64(l.config.IngressBitsPerSec), denom)

	l.egress = newTokenBucket(uint64(l.egressBitsPerSec), l.config.TokenSize)
	l.ingress = newTokenBucket(uint64(l.ingressBitsPerSec), l.config.TokenSize)

	return nil
}

func divCeil(n int64, denom int) int64 {
	v := n / int64(denom)
	if n%int64(denom) != 0 {
		v++
	}
	if v < 1 {
		v = 1
	}
	return v
}

// EgressLimit returns the current egress limit in bits per second.
func (l *Limiter) EgressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.egressBitsPerSec
}

// IngressLimit returns the current ingress limit in bits per second.
func (l *Limiter) IngressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ingressBitsPerSec
}
