package config

import (
	"fmt"

	"tradeetl/internal/multitable"
	"tradeetl/internal/parser"
	"tradeetl/internal/storage"
	"tradeetl/internal/workerpool"
)

// StorageConfig returns the backend selection for storage.Open. An unset
// max_conns is sized to pool.max plus one for the extraction stream, so chunk
// workers never wait on the backend's smaller default.
func (c Config) StorageConfig() storage.Config {
	maxConns := c.Storage.MaxConns
	if maxConns == 0 && c.Pool.Max > 0 {
		maxConns = c.Pool.Max + 1
	}
	return storage.Config{Kind: c.Storage.Kind, DSN: c.Storage.DSN, MaxConns: maxConns}
}

// EngineOptions returns the engine sizing and the configured default mode.
// Logger, Clock and NewID are left for the caller.
func (c Config) EngineOptions() (multitable.Options, multitable.Mode, error) {
	mode, err := multitable.ParseMode(c.Engine.Mode)
	if err != nil {
		return multitable.Options{}, mode, err
	}
	opts := multitable.Options{
		ChunkSize:          c.Engine.ChunkSize,
		BatchSize:          c.Engine.BatchSize,
		DimensionChunkSize: c.Engine.DimensionChunkSize,
		MaxAttempts:        c.Engine.MaxAttempts,
		BackoffBase:        c.Engine.BackoffBase.D(),
		BackoffMax:         c.Engine.BackoffMax.D(),
		IntegrityAttempts:  c.Engine.IntegrityAttempts,
		Job:                c.Engine.Job,
	}
	if err := opts.Validate(); err != nil {
		return multitable.Options{}, mode, fmt.Errorf("engine options: %w", err)
	}
	return opts, mode, nil
}

// PoolConfig returns the worker pool sizing.
func (c Config) PoolConfig() (workerpool.Config, error) {
	policy, err := workerpool.ParsePolicy(c.Pool.Policy)
	if err != nil {
		return workerpool.Config{}, err
	}
	return workerpool.Config{
		Core:      c.Pool.Core,
		Max:       c.Pool.Max,
		Queue:     c.Pool.Queue,
		Policy:    policy,
		KeepAlive: c.Pool.KeepAlive.D(),
	}, nil
}

// ParserOptions returns the import parser options.
func (c Config) ParserOptions() parser.Options {
	opt := parser.DefaultOptions()
	if r := []rune(c.Import.Comma); len(r) == 1 {
		opt.Comma = r[0]
	}
	opt.LazyQuotes = c.Import.LazyQuotes
	opt.HeaderMap = c.Import.HeaderMap
	return opt
}
