package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvStorageKind = "TRADEETL_STORAGE"
	EnvDSN         = "TRADEETL_DSN"
	EnvMode        = "TRADEETL_MODE"
	EnvChunkSize   = "TRADEETL_CHUNK_SIZE"
	EnvBatchSize   = "TRADEETL_BATCH_SIZE"
	EnvPoolCore    = "TRADEETL_POOL_CORE"
	EnvPoolMax     = "TRADEETL_POOL_MAX"
	EnvPoolQueue   = "TRADEETL_POOL_QUEUE"
	EnvPoolPolicy  = "TRADEETL_POOL_POLICY"
	EnvAddr        = "TRADEETL_ADDR"
	EnvMetrics     = "TRADEETL_METRICS"
	EnvPushURL     = "TRADEETL_PUSHGATEWAY"
	EnvDatadogTags = "DD_TAGS"
	EnvLogLevel    = "LOG_LEVEL"
)

// ApplyEnv overrides cfg with the non-empty variables returned by getenv.
// Tests pass a map-backed getenv; binaries pass os.Getenv after loading .env
// files with godotenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str(EnvStorageKind, &cfg.Storage.Kind)
	str(EnvDSN, &cfg.Storage.DSN)
	str(EnvMode, &cfg.Engine.Mode)
	num(EnvChunkSize, &cfg.Engine.ChunkSize)
	num(EnvBatchSize, &cfg.Engine.BatchSize)
	num(EnvPoolCore, &cfg.Pool.Core)
	num(EnvPoolMax, &cfg.Pool.Max)
	num(EnvPoolQueue, &cfg.Pool.Queue)
	str(EnvPoolPolicy, &cfg.Pool.Policy)
	str(EnvAddr, &cfg.Server.Addr)
	str(EnvMetrics, &cfg.Metrics.Backend)
	str(EnvPushURL, &cfg.Metrics.PushURL)
	str(EnvLogLevel, &cfg.Log.Level)
	if v := getenv(EnvDatadogTags); v != "" {
		cfg.Metrics.DatadogTags = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: env: %s", strings.Join(errs, "; "))
	}
	return nil
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
