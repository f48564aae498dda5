package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flag names shared by the binaries.
const (
	FlagConfig      = "config"
	FlagStorage     = "storage"
	FlagDSN         = "dsn"
	FlagMaxConns    = "max-conns"
	FlagMode        = "mode"
	FlagChunkSize   = "chunk-size"
	FlagBatchSize   = "batch-size"
	FlagMaxAttempts = "max-attempts"
	FlagBackoff     = "backoff"
	FlagPoolCore    = "pool-core"
	FlagPoolMax     = "pool-max"
	FlagPoolQueue   = "pool-queue"
	FlagPoolPolicy  = "pool-policy"
	FlagAddr        = "addr"
	FlagMetrics     = "metrics"
	FlagPushURL     = "pushgateway"
	FlagLogLevel    = "log-level"
)

// AddFlags registers the config flags on fs. Defaults shown in --help are the
// built-in ones; only flags set explicitly override file and env values.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP(FlagConfig, "c", "", "config file (.json, .yaml, .yml)")
	fs.String(FlagStorage, d.Storage.Kind, "storage backend: postgres | sqlite | mssql")
	fs.String(FlagDSN, "", "database DSN (${VAR} is expanded)")
	fs.Int(FlagMaxConns, d.Storage.MaxConns, "max database connections (0 = pool max + 1)")
	fs.String(FlagMode, d.Engine.Mode, "mapping mode: lenient | strict")
	fs.Int(FlagChunkSize, d.Engine.ChunkSize, "source rows per chunk task")
	fs.Int(FlagBatchSize, d.Engine.BatchSize, "fact rows per insert batch")
	fs.Int(FlagMaxAttempts, d.Engine.MaxAttempts, "attempts per fact batch")
	fs.Duration(FlagBackoff, d.Engine.BackoffBase.D(), "first retry delay (doubles per attempt)")
	fs.Int(FlagPoolCore, d.Pool.Core, "core chunk workers")
	fs.Int(FlagPoolMax, d.Pool.Max, "max chunk workers")
	fs.Int(FlagPoolQueue, d.Pool.Queue, "pending chunk queue capacity")
	fs.String(FlagPoolPolicy, d.Pool.Policy, "saturation policy: block | reject")
	fs.String(FlagAddr, d.Server.Addr, "HTTP listen address")
	fs.String(FlagMetrics, d.Metrics.Backend, "metrics backend: none | prometheus | datadog")
	fs.String(FlagPushURL, "", "Prometheus Pushgateway URL")
	fs.String(FlagLogLevel, d.Log.Level, "log level: debug | info | warn | error")
}

// ApplyFlags copies every flag set on the command line into cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if err := applyFlag(fs, f.Name, cfg); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func applyFlag(fs *pflag.FlagSet, name string, cfg *Config) error {
	var err error
	switch name {
	case FlagStorage:
		cfg.Storage.Kind, err = fs.GetString(name)
	case FlagDSN:
		cfg.Storage.DSN, err = fs.GetString(name)
	case FlagMaxConns:
		cfg.Storage.MaxConns, err = fs.GetInt(name)
	case FlagMode:
		cfg.Engine.Mode, err = fs.GetString(name)
	case FlagChunkSize:
		cfg.Engine.ChunkSize, err = fs.GetInt(name)
	case FlagBatchSize:
		cfg.Engine.BatchSize, err = fs.GetInt(name)
	case FlagMaxAttempts:
		cfg.Engine.MaxAttempts, err = fs.GetInt(name)
	case FlagBackoff:
		d, derr := fs.GetDuration(name)
		cfg.Engine.BackoffBase, err = Duration(d), derr
	case FlagPoolCore:
		cfg.Pool.Core, err = fs.GetInt(name)
	case FlagPoolMax:
		cfg.Pool.Max, err = fs.GetInt(name)
	case FlagPoolQueue:
		cfg.Pool.Queue, err = fs.GetInt(name)
	case FlagPoolPolicy:
		cfg.Pool.Policy, err = fs.GetString(name)
	case FlagAddr:
		cfg.Server.Addr, err = fs.GetString(name)
	case FlagMetrics:
		cfg.Metrics.Backend, err = fs.GetString(name)
	case FlagPushURL:
		cfg.Metrics.PushURL, err = fs.GetString(name)
	case FlagLogLevel:
		cfg.Log.Level, err = fs.GetString(name)
	}
	return err
}

// FromFlags resolves the full layering for a parsed flag set: defaults, the
// --config file, env via getenv, then explicit flags.
func FromFlags(fs *pflag.FlagSet, getenv func(string) string) (Config, error) {
	path, _ := fs.GetString(FlagConfig)
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := ApplyFlags(fs, &cfg); err != nil {
		return cfg, fmt.Errorf("config: flags: %w", err)
	}
	cfg.Storage.DSN = os.Expand(cfg.Storage.DSN, getenv)
	return cfg, nil
}
