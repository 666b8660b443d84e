// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the engine's startup options table (§6) from
// TOML, with human-readable byte sizes and a physical-memory-relative
// default for the buffer pool.
package config

import (
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ibkv-project/ibkv/common"
	"github.com/pbnjay/memory"
	"github.com/pelletier/go-toml/v2"
)

// Config mirrors the options table named in the external interface
// contract: file/format knobs, recovery mode, lock and log sizing.
type Config struct {
	DataDir         string            `toml:"data_dir"`
	FilePerTable    bool              `toml:"file_per_table"`
	FileFormat      string            `toml:"file_format"`
	ForceRecovery   int               `toml:"force_recovery"`
	LockWaitTimeout durationSeconds   `toml:"lock_wait_timeout"`
	BufPoolSize     datasize.ByteSize `toml:"buf_pool_size"`
	LogBufferSize   datasize.ByteSize `toml:"log_buffer_size"`
	LogFileSize     datasize.ByteSize `toml:"log_file_size"`
	MaxConcurrentDeadlockProbes int64 `toml:"max_concurrent_deadlock_probes"`
	DMLDelayMicros  int64             `toml:"dml_delay_micros"`
	MetricsAddr     string            `toml:"metrics_addr"`
}

// durationSeconds lets the TOML table spell timeouts as a bare integer
// number of seconds, matching the spec's `lock_wait_timeout: 50` style.
type durationSeconds time.Duration

func (d *durationSeconds) UnmarshalText(b []byte) error {
	secs, err := parseInt(string(b))
	if err != nil {
		return err
	}
	*d = durationSeconds(time.Duration(secs) * time.Second)
	return nil
}

func parseInt(s string) (int64, error) {
	var n int64
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) == 0 {
		return 0, common.NewError(common.ErrInvalidInput, "config: empty duration")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, common.NewError(common.ErrInvalidInput, "config: %q is not an integer duration", s)
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// Duration returns the lock wait timeout as a time.Duration.
func (c *Config) Duration() time.Duration { return time.Duration(c.LockWaitTimeout) }

// defaults matches the spec's documented fallbacks: a buffer pool sized
// to a fraction of physical memory when the operator leaves it unset,
// exactly the role the teacher's own (indirect) pbnjay/memory
// dependency plays for default pool sizing.
func defaults() Config {
	return Config{
		FileFormat:                  "Barracuda",
		LockWaitTimeout:             durationSeconds(50 * time.Second),
		BufPoolSize:                 datasize.ByteSize(memory.TotalMemory() / 4),
		LogBufferSize:               16 * datasize.MB,
		LogFileSize:                 96 * datasize.MB,
		MaxConcurrentDeadlockProbes: 8,
		DMLDelayMicros:              0,
	}
}

// Load reads and parses a TOML config file, filling in defaults() for
// any field the file leaves zero-valued.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Wrap(common.ErrGeneric, err, "config: reading %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, common.Wrap(common.ErrSchemaError, err, "config: parsing %s", path)
	}
	if cfg.BufPoolSize == 0 {
		cfg.BufPoolSize = defaults().BufPoolSize
	}
	if cfg.MaxConcurrentDeadlockProbes == 0 {
		cfg.MaxConcurrentDeadlockProbes = defaults().MaxConcurrentDeadlockProbes
	}
	return &cfg, nil
}

// Default returns the built-in configuration, for tests and for
// `ibkvctl` runs with no config file given.
func Default() *Config {
	cfg := defaults()
	return &cfg
}
