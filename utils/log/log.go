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

// Package log configures zap logging for the torrent engine and exposes a
// package-level default logger for call sites which do not carry their own
// component logger.
package log

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines logger configuration. Embeds zap's own config so yaml files
// can set any zap knob (level, encoding, output paths) directly.
type Config struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

func (c Config) applyDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = []string{"stdout"}
	}
	return c
}

func (c Config) zapConfig() (zap.Config, error) {
	c = c.applyDefaults()
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return zap.Config{}, fmt.Errorf("level: %s", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Development = c.Development
	zc.Encoding = c.Encoding
	zc.OutputPaths = c.OutputPaths
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc, nil
}

// New builds a *zap.Logger from config, annotated with the given static
// fields (e.g. the local peer id).
func New(config Config, fields map[string]interface{}) (*zap.Logger, error) {
	zc, err := config.zapConfig()
	if err != nil {
		return nil, err
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build: %s", err)
	}
	if len(fields) > 0 {
		logger = logger.With(toZapFields(fields)...)
	}
	return logger, nil
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

// ConfigureLogger builds a logger from config and installs it as the
// package-level default, returning it for convenience.
func ConfigureLogger(config Config) *zap.Logger {
	logger, err := New(config, nil)
	if err != nil {
		// Logging configuration errors are fatal at startup: fall back to a
		// minimal logger so the error itself can still be reported.
		fallback := zap.NewExample()
		fallback.Sugar().Errorf("Invalid log config, falling back to example logger: %s", err)
		setGlobal(fallback)
		return fallback
	}
	setGlobal(logger)
	return logger
}

// Fields is a convenience alias for structured key/value logging.
type Fields map[string]interface{}

var (
	mu      sync.RWMutex
	global  *zap.Logger = zap.NewNop()
	sugared             = global.Sugar()
)

func setGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
	sugared = l.Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// With returns a logger annotated with the given key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return current().With(args...)
}

// WithFields returns a logger annotated with the given fields.
func WithFields(fields Fields) *zap.SugaredLogger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return current().With(args...)
}

// Infof logs at info level using the package default logger.
func Infof(format string, args ...interface{}) { current().Infof(format, args...) }

// Errorf logs at error level using the package default logger.
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Fatalf logs at fatal level using the package default logger and exits.
func Fatalf(format string, args ...interface{}) { current().Fatalf(format, args...) }

// Warnf logs at warn level using the package default logger.
func Warnf(format string, args ...interface{}) { current().Warnf(format, args...) }
